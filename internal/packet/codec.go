package packet

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Decode failure reasons reported to a FailureRecorder.
const (
	ReasonUnknownHeader = "unknown_header"
	ReasonTruncated     = "truncated"
	ReasonFieldParse    = "field_parse"
	ReasonOther         = "other"
)

// FailureRecorder counts dropped inbound lines.
type FailureRecorder interface {
	DecodeFailed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) DecodeFailed(string) {}

// Codec decodes inbound lines against a schema registry and encodes outbound messages.
// A Codec is safe for concurrent use.
type Codec struct {
	registry *Registry
	logger   *zap.Logger
	recorder FailureRecorder
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithLogger sets the logger used by Receive.
func WithLogger(l *zap.Logger) CodecOption {
	return func(c *Codec) { c.logger = l }
}

// WithRecorder sets the recorder notified of dropped lines.
func WithRecorder(r FailureRecorder) CodecOption {
	return func(c *Codec) { c.recorder = r }
}

// NewCodec creates a Codec that decodes the headers held by registry.
//
// Precondition: registry must be non-nil.
func NewCodec(registry *Registry, opts ...CodecOption) *Codec {
	c := &Codec{
		registry: registry,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the schema registry the codec decodes against.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode renders msg as a wire line without the trailing newline.
func (c *Codec) Encode(msg Message) (string, error) {
	return Encode(msg)
}

// Encode renders msg as a wire line: the header keyword followed by one token per field.
// msg may be a struct value or a pointer to one; it is never modified.
//
// Postcondition: Returns the line, or a *SchemaError if the type or the value
// cannot be represented.
func Encode(msg Message) (string, error) {
	s, err := SchemaOf(msg)
	if err != nil {
		return "", err
	}
	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", &SchemaError{Op: "encode", Type: s.Type.String(), Reason: "nil pointer"}
		}
		v = v.Elem()
	}

	var b strings.Builder
	b.WriteString(s.Header)
	if err := encodeFields(&b, s, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encodeFields(b *strings.Builder, s *Schema, v reflect.Value) error {
	fail := func(f Field, format string, args ...any) error {
		return &SchemaError{Op: "encode", Type: s.Type.String(), Field: f.Name, Reason: fmt.Sprintf(format, args...)}
	}

	omitted := ""
	for _, f := range s.Fields {
		fv := v.FieldByIndex(f.index)
		if f.OmitEmpty && isEmpty(fv) {
			if omitted == "" {
				omitted = f.Name
			}
			continue
		}
		if omitted != "" {
			return fail(f, "set while preceding optional field %s is empty", omitted)
		}

		switch {
		case f.Terminal:
			text := fv.String()
			if strings.TrimSpace(text) == "" {
				return fail(f, "required terminal field is empty")
			}
			if strings.ContainsAny(text, "\r\n") {
				return fail(f, "terminal field contains a line break")
			}
			if strings.Join(strings.Fields(text), " ") != text {
				return fail(f, "terminal field must use single spaces between words with none at the ends")
			}
			b.WriteByte(' ')
			b.WriteString(text)

		case f.List:
			n := fv.Len()
			if f.Counted {
				b.WriteByte(' ')
				b.WriteString(strconv.Itoa(n))
			}
			for i := 0; i < n; i++ {
				tok, err := encodeElement(f, fv.Index(i))
				if err != nil {
					return fail(f, "element %d: %v", i, err)
				}
				b.WriteByte(' ')
				b.WriteString(tok)
			}

		default:
			tok, err := formatScalar(fv, false)
			if err != nil {
				return fail(f, "%v", err)
			}
			b.WriteByte(' ')
			b.WriteString(tok)
		}
	}
	return nil
}

func encodeElement(f Field, v reflect.Value) (string, error) {
	parts := make([]string, 0, len(f.elem.Fields))
	omitted := ""
	for _, ef := range f.elem.Fields {
		ev := v.FieldByIndex(ef.index)
		if ef.OmitEmpty && isEmpty(ev) {
			if omitted == "" {
				omitted = ef.Name
			}
			continue
		}
		if omitted != "" {
			return "", fmt.Errorf("%s set while preceding optional field %s is empty", ef.Name, omitted)
		}
		tok, err := formatScalar(ev, true)
		if err != nil {
			return "", fmt.Errorf("%s: %w", ef.Name, err)
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, SubDelimiter), nil
}

func isEmpty(v reflect.Value) bool {
	if v.Kind() == reflect.Slice {
		return v.Len() == 0
	}
	return v.IsZero()
}

func formatScalar(v reflect.Value, element bool) (string, error) {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		if s == "" {
			return "", errors.New("empty string cannot be encoded as a token")
		}
		if strings.ContainsAny(s, " \t\r\n") {
			return "", fmt.Errorf("%q contains whitespace; only a terminal field may", s)
		}
		if element && strings.Contains(s, SubDelimiter) {
			return "", fmt.Errorf("%q contains the %q sub-delimiter", s, SubDelimiter)
		}
		return s, nil
	case reflect.Bool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, v.Type().Bits()), nil
	}
	return "", fmt.Errorf("unsupported kind %s", v.Kind())
}

func parseScalar(tok string, dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(tok)
	case reflect.Bool:
		switch tok {
		case "1":
			dst.SetBool(true)
		case "0":
			dst.SetBool(false)
		default:
			return errors.New("boolean must be 1 or 0")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(tok, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(tok, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(tok, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetFloat(n)
	default:
		return fmt.Errorf("unsupported kind %s", dst.Kind())
	}
	return nil
}

// Decode parses line into a newly allocated message whose schema is selected
// by the line's header keyword. Surplus trailing tokens are ignored.
//
// Postcondition: Returns a pointer to the decoded message, or one of
// *UnknownHeaderError, *TruncatedError, *FieldParseError. No partial message
// is ever returned alongside an error. Decode does not panic.
func (c *Codec) Decode(line string) (msg Message, err error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, &TruncatedError{}
	}
	header := tokens[0]

	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = &FieldParseError{Header: header, Err: fmt.Errorf("panic while decoding: %v", r)}
		}
	}()

	s, ok := c.registry.Lookup(header)
	if !ok {
		return nil, &UnknownHeaderError{Header: header}
	}

	ptr := reflect.New(s.Type)
	if err := decodeFields(s, tokens[1:], ptr.Elem()); err != nil {
		return nil, err
	}
	return ptr.Interface().(Message), nil
}

func decodeFields(s *Schema, rest []string, v reflect.Value) error {
	got := len(rest)
	for _, f := range s.Fields {
		if len(rest) == 0 {
			if f.OmitEmpty || (f.List && !f.Counted) {
				// Every field after an optional one is optional as well.
				break
			}
			return &TruncatedError{Header: s.Header, Field: f.Name, Want: s.minTokens, Got: got}
		}
		fv := v.FieldByIndex(f.index)

		switch {
		case f.Terminal:
			fv.SetString(strings.Join(rest, " "))
			rest = nil

		case f.List:
			n := len(rest)
			if f.Counted {
				count, err := strconv.Atoi(rest[0])
				if err != nil || count < 0 {
					if err == nil {
						err = errors.New("negative element count")
					}
					return &FieldParseError{Header: s.Header, Field: f.Name, Token: rest[0], Err: err}
				}
				rest = rest[1:]
				if count > len(rest) {
					return &TruncatedError{Header: s.Header, Field: f.Name, Want: s.minTokens + count, Got: got}
				}
				n = count
			}
			if n > 0 {
				list := reflect.MakeSlice(f.typ, n, n)
				for i := 0; i < n; i++ {
					if err := decodeElement(s.Header, f, rest[i], list.Index(i)); err != nil {
						return err
					}
				}
				fv.Set(list)
			}
			rest = rest[n:]

		default:
			if err := parseScalar(rest[0], fv); err != nil {
				return &FieldParseError{Header: s.Header, Field: f.Name, Token: rest[0], Err: err}
			}
			rest = rest[1:]
		}
	}
	return nil
}

func decodeElement(header string, f Field, tok string, dst reflect.Value) error {
	parts := strings.Split(tok, SubDelimiter)
	for i, ef := range f.elem.Fields {
		name := f.Name + "." + ef.Name
		if i >= len(parts) {
			if ef.OmitEmpty {
				break
			}
			return &FieldParseError{
				Header: header, Field: name, Token: tok,
				Err: fmt.Errorf("element has %d parts, want >= %d", len(parts), f.elem.minTokens),
			}
		}
		if err := parseScalar(parts[i], dst.FieldByIndex(ef.index)); err != nil {
			return &FieldParseError{Header: header, Field: name, Token: tok, Err: err}
		}
	}
	return nil
}

// Receive decodes an inbound line at the receive-loop boundary. Failures are
// logged, counted, and reported as false so the caller drops the line.
func (c *Codec) Receive(line string) (Message, bool) {
	msg, err := c.Decode(line)
	if err == nil {
		return msg, true
	}

	var (
		unknown   *UnknownHeaderError
		truncated *TruncatedError
		parse     *FieldParseError
	)
	switch {
	case errors.As(err, &unknown):
		c.recorder.DecodeFailed(ReasonUnknownHeader)
		c.logger.Debug("dropping line with unknown header", zap.String("header", unknown.Header))
	case errors.As(err, &truncated):
		c.recorder.DecodeFailed(ReasonTruncated)
		c.logger.Warn("dropping truncated line",
			zap.String("header", truncated.Header),
			zap.String("field", truncated.Field),
			zap.Int("want", truncated.Want),
			zap.Int("got", truncated.Got),
		)
	case errors.As(err, &parse):
		c.recorder.DecodeFailed(ReasonFieldParse)
		c.logger.Warn("dropping malformed line",
			zap.String("header", parse.Header),
			zap.String("field", parse.Field),
			zap.String("token", parse.Token),
			zap.Error(parse.Err),
		)
	default:
		c.recorder.DecodeFailed(ReasonOther)
		c.logger.Warn("dropping undecodable line", zap.Error(err))
	}
	return nil, false
}
