package packet

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is.
var (
	// ErrSchema marks a message type whose declaration, or a value of it, violates
	// the positional schema rules. It is a programming error, never wire noise.
	ErrSchema = errors.New("packet schema violation")
	// ErrUnknownHeader is returned when no schema is registered for a header keyword.
	ErrUnknownHeader = errors.New("unknown packet header")
	// ErrTruncated is returned when a line carries fewer tokens than the schema requires.
	ErrTruncated = errors.New("truncated packet")
	// ErrFieldParse is returned when a token cannot be parsed into its field's type.
	ErrFieldParse = errors.New("packet field parse error")
)

// SchemaError reports an invalid message declaration (Op "build") or a value
// that cannot be represented under its own schema (Op "encode").
type SchemaError struct {
	Op     string
	Type   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("packet %s %s: %s", e.Op, e.Type, e.Reason)
	}
	return fmt.Sprintf("packet %s %s.%s: %s", e.Op, e.Type, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// UnknownHeaderError reports a header keyword with no registered schema.
type UnknownHeaderError struct {
	Header string
}

func (e *UnknownHeaderError) Error() string {
	return fmt.Sprintf("unknown packet header %q", e.Header)
}

func (e *UnknownHeaderError) Unwrap() error { return ErrUnknownHeader }

// TruncatedError reports a line that ended before a required field.
type TruncatedError struct {
	Header string
	// Field is the first required field that had no token.
	Field string
	// Want is the minimum number of tokens after the header.
	Want int
	// Got is the number of tokens after the header.
	Got int
}

func (e *TruncatedError) Error() string {
	if e.Header == "" {
		return "truncated packet: empty line"
	}
	return fmt.Sprintf("truncated packet %q: field %s missing (want >= %d tokens, got %d)", e.Header, e.Field, e.Want, e.Got)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncated }

// FieldParseError reports a token that does not parse as its field's type.
type FieldParseError struct {
	Header string
	Field  string
	Token  string
	Err    error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("packet %q field %s: cannot parse %q: %v", e.Header, e.Field, e.Token, e.Err)
}

// Unwrap exposes both the sentinel and the underlying parse error.
func (e *FieldParseError) Unwrap() []error { return []error{ErrFieldParse, e.Err} }
