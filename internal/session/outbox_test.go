package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_Push(t *testing.T) {
	o := NewOutbox(4)
	require.NoError(t, o.Push("say 1 1 0 hi"))
	assert.Equal(t, 1, o.Len())
	assert.Equal(t, "say 1 1 0 hi", <-o.Lines())
}

func TestOutbox_PushClosed(t *testing.T) {
	o := NewOutbox(4)
	o.Close()
	assert.True(t, o.IsClosed())
	assert.ErrorIs(t, o.Push("x"), ErrOutboxClosed)
}

func TestOutbox_PushFull(t *testing.T) {
	o := NewOutbox(1)
	require.NoError(t, o.Push("first"))
	assert.ErrorIs(t, o.Push("overflow"), ErrOutboxFull)
}

func TestOutbox_CloseIdempotentAndDrainable(t *testing.T) {
	o := NewOutbox(2)
	require.NoError(t, o.Push("a"))
	o.Close()
	o.Close()

	var got []string
	for line := range o.Lines() {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestOutbox_DefaultSize(t *testing.T) {
	o := NewOutbox(0)
	assert.Equal(t, 64, cap(o.lines))
}
