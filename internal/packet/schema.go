// Package packet declares positional message schemas and translates messages
// to and from the space-delimited text line protocol.
//
// A message type is a struct implementing Message whose wire fields carry a
// `packet` struct tag:
//
//	type WhisperPacket struct {
//		Message string `packet:"0,terminal"`
//	}
//
//	func (WhisperPacket) Header() string { return "/" }
//
// The tag holds the zero-based position followed by optional flags:
//
//	terminal   the field consumes the rest of the line; string only, must be last
//	list       a slice of sub-message structs, one token per element
//	counted    a list preceded by its element count; may appear before other fields
//	omitempty  a trailing optional field, dropped on encode when zero
//
// Schemas are built once per type and cached.
package packet

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	tagName = "packet"
	// SubDelimiter joins the fields of one list element into a single token.
	SubDelimiter = "."
)

// Message is implemented by every type that travels on the wire.
type Message interface {
	// Header returns the keyword that prefixes the message's wire line.
	Header() string
}

// Field describes one positional field of a schema.
type Field struct {
	Name      string
	Position  int
	Terminal  bool
	List      bool
	Counted   bool
	OmitEmpty bool

	index []int
	typ   reflect.Type
	// elem is the schema of the list element type.
	elem *Schema
}

// Schema is the immutable positional layout of one message type.
type Schema struct {
	// Header is empty for list element schemas.
	Header string
	Type   reflect.Type
	Fields []Field

	minTokens int
}

// MinTokens returns the number of tokens after the header that a line must carry.
func (s *Schema) MinTokens() int {
	return s.minTokens
}

// Elem returns the element schema of a list field.
func (f Field) Elem() *Schema {
	return f.elem
}

type cacheEntry struct {
	schema *Schema
	err    error
}

var schemaCache sync.Map // reflect.Type -> cacheEntry

// SchemaOf returns the schema for msg's type.
//
// Postcondition: Returns the cached schema, or a *SchemaError if the type is invalid.
func SchemaOf(msg Message) (*Schema, error) {
	if msg == nil {
		return nil, &SchemaError{Op: "build", Type: "<nil>", Reason: "nil message"}
	}
	return SchemaFor(reflect.TypeOf(msg))
}

// SchemaFor returns the schema for t, which must be a struct or pointer to struct
// implementing Message. The result, including a failure, is cached per type.
//
// Postcondition: Returns the schema, or a *SchemaError if the type is invalid.
func SchemaFor(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if e, ok := schemaCache.Load(t); ok {
		ce := e.(cacheEntry)
		return ce.schema, ce.err
	}

	s, err := buildSchema(t, false)
	if err != nil {
		s = nil
	}
	e, _ := schemaCache.LoadOrStore(t, cacheEntry{schema: s, err: err})
	ce := e.(cacheEntry)
	return ce.schema, ce.err
}

var messageType = reflect.TypeOf((*Message)(nil)).Elem()

func headerOf(t reflect.Type) (string, bool) {
	switch {
	case t.Implements(messageType):
		return reflect.Zero(t).Interface().(Message).Header(), true
	case reflect.PointerTo(t).Implements(messageType):
		return reflect.New(t).Interface().(Message).Header(), true
	}
	return "", false
}

func buildSchema(t reflect.Type, element bool) (*Schema, error) {
	fail := func(field, format string, args ...any) error {
		return &SchemaError{Op: "build", Type: t.String(), Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if t.Kind() != reflect.Struct {
		return nil, fail("", "kind %s is not a struct", t.Kind())
	}

	s := &Schema{Type: t}
	if !element {
		header, ok := headerOf(t)
		if !ok {
			return nil, fail("", "does not implement packet.Message")
		}
		if header == "" || strings.ContainsAny(header, " \t\r\n") {
			return nil, fail("", "header %q must be a non-empty token without whitespace", header)
		}
		s.Header = header
	}

	seen := make(map[int]string)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(tagName)
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, fail(sf.Name, "tagged field must be exported")
		}
		f, err := parseTag(tag)
		if err != nil {
			return nil, fail(sf.Name, "%v", err)
		}
		f.Name = sf.Name
		f.index = sf.Index
		f.typ = sf.Type
		if prev, dup := seen[f.Position]; dup {
			return nil, fail(sf.Name, "position %d already used by %s", f.Position, prev)
		}
		seen[f.Position] = sf.Name

		if err := checkFieldType(&f, element); err != nil {
			return nil, fail(sf.Name, "%v", err)
		}
		s.Fields = append(s.Fields, f)
	}

	sort.Slice(s.Fields, func(i, j int) bool { return s.Fields[i].Position < s.Fields[j].Position })

	terminals := 0
	for i, f := range s.Fields {
		last := i == len(s.Fields)-1
		if f.Terminal {
			terminals++
			if terminals > 1 {
				return nil, fail(f.Name, "more than one terminal field")
			}
			if !last {
				return nil, fail(f.Name, "terminal field must be the last positional field")
			}
		} else if f.Position != i {
			return nil, fail(f.Name, "positions must be contiguous from zero, found %d at index %d", f.Position, i)
		}
		if f.List && !f.Counted && !last {
			return nil, fail(f.Name, "uncounted list must be the last positional field")
		}
		if i > 0 && s.Fields[i-1].OmitEmpty && !f.OmitEmpty && !(f.List && !f.Counted) {
			return nil, fail(f.Name, "required field follows optional field %s", s.Fields[i-1].Name)
		}
		if !f.OmitEmpty && !(f.List && !f.Counted) {
			s.minTokens++
		}
	}
	return s, nil
}

func parseTag(tag string) (Field, error) {
	parts := strings.Split(tag, ",")
	pos, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || pos < 0 {
		return Field{}, fmt.Errorf("invalid position %q", parts[0])
	}
	f := Field{Position: pos}
	for _, flag := range parts[1:] {
		switch strings.TrimSpace(flag) {
		case "terminal":
			f.Terminal = true
		case "list":
			f.List = true
		case "counted":
			f.List = true
			f.Counted = true
		case "omitempty":
			f.OmitEmpty = true
		case "":
		default:
			return Field{}, fmt.Errorf("unknown flag %q", flag)
		}
	}
	if f.Terminal && f.List {
		return Field{}, fmt.Errorf("a field cannot be both terminal and list")
	}
	return f, nil
}

func checkFieldType(f *Field, element bool) error {
	switch {
	case element && (f.Terminal || f.List):
		return fmt.Errorf("list elements may only hold scalar fields")
	case f.Terminal:
		if f.typ.Kind() != reflect.String {
			return fmt.Errorf("terminal field must be a string, got %s", f.typ)
		}
	case f.List:
		if f.typ.Kind() != reflect.Slice {
			return fmt.Errorf("list field must be a slice, got %s", f.typ)
		}
		elem, err := buildSchema(f.typ.Elem(), true)
		if err != nil {
			return err
		}
		if len(elem.Fields) == 0 {
			return fmt.Errorf("list element %s declares no fields", f.typ.Elem())
		}
		f.elem = elem
	default:
		if !scalarKind(f.typ.Kind()) {
			return fmt.Errorf("unsupported field type %s", f.typ)
		}
		if element && (f.typ.Kind() == reflect.Float32 || f.typ.Kind() == reflect.Float64) {
			return fmt.Errorf("float fields collide with the %q sub-delimiter", SubDelimiter)
		}
	}
	return nil
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
