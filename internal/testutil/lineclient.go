package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a line-protocol test client for integration testing.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return &LineClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

// ReadLine returns the next line without its terminator, or fails on timeout.
func (c *LineClient) ReadLine(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading line: got %q, error: %v", line, err)
	}
	return strings.TrimRight(line, "\r\n")
}

// ReadUntil reads lines until one starts with prefix and returns it.
//
// Precondition: prefix must be non-empty.
// Postcondition: Returns the matching line, or fails on timeout.
func (c *LineClient) ReadUntil(prefix string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no line starting with %q within %s", prefix, timeout)
		}
		if line := c.ReadLine(remaining); strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// ExpectSilence fails the test if a line arrives within d.
func (c *LineClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	line, err := c.reader.ReadString('\n')
	if err == nil {
		c.t.Fatalf("unexpected line %q", strings.TrimRight(line, "\r\n"))
	}
}

// Send writes a line of text to the server, appending \n.
//
// Precondition: text should not contain trailing newline characters.
// Postcondition: text + \n is written to the connection.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", text); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
