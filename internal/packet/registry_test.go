package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otherWhisper struct {
	Text string `packet:"0,terminal"`
}

func (otherWhisper) Header() string { return "/" }

func TestNewRegistry(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []string{"/", "finfo", "mv", "mx"}, r.Headers())

	s, ok := r.Lookup("finfo")
	require.True(t, ok)
	assert.Equal(t, "finfo", s.Header)

	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestNewRegistry_DuplicateHeader(t *testing.T) {
	_, err := NewRegistry(whisper{}, otherWhisper{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "already registered")
}

func TestNewRegistry_InvalidSchemaFailsFast(t *testing.T) {
	_, err := NewRegistry(whisper{}, twoTerminals{})
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "build", se.Op)
}

func TestNewRegistry_Empty(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, r.Headers())
}
