// Package transport serves the line protocol over TCP and binds each
// connection to a registered session.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"time"
)

// MaxLineLength bounds one inbound line, excluding its terminator.
const MaxLineLength = 4096

// ErrLineTooLong is returned by ReadLine when a line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("line too long")

// Conn wraps a TCP connection with newline-delimited reads and serialised writes.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads one line. "\n" and "\r\n" both terminate a line; the
// terminator is not returned. Control characters other than tab are dropped.
//
// Postcondition: Returns the next line, or an error (including io.EOF and ErrLineTooLong).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return line.String(), err
		}
		if b == '\n' {
			break
		}
		if b < 32 && b != '\t' {
			continue
		}
		if line.Len() >= MaxLineLength {
			return "", ErrLineTooLong
		}
		line.WriteByte(b)
	}
	return line.String(), nil
}

// WriteLine sends text followed by "\n". Concurrent calls never interleave.
//
// Precondition: text should not contain newline characters.
// Postcondition: text + "\n" is written to the connection, or an error is returned.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, '\n')
	_, err := c.raw.Write(buf)
	return err
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
