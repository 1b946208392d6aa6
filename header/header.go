package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"xorkevin.dev/kerrors"
)

var (
	// ErrTruncated is returned when fewer bytes are available than required
	ErrTruncated errTruncated
	// ErrMalformedField is returned when a raw value cannot be formatted
	ErrMalformedField errMalformedField
	// ErrCursor is returned when a field formatter misuses the value cursor
	ErrCursor errCursor
)

type (
	errTruncated      struct{}
	errMalformedField struct{}
	errCursor         struct{}
)

func (e errTruncated) Error() string {
	return "Truncated input"
}

func (e errMalformedField) Error() string {
	return "Malformed field"
}

func (e errCursor) Error() string {
	return "Invalid value cursor access"
}

type (
	// LayoutKind is the binary encoding of a layout element
	LayoutKind int
)

const (
	KindBytes LayoutKind = iota
	KindUint8
	KindUint16
	KindInt16
	KindUint32
	KindUint64
)

func (k LayoutKind) width() int {
	switch k {
	case KindBytes, KindUint8:
		return 1
	case KindUint16, KindInt16:
		return 2
	case KindUint32:
		return 4
	case KindUint64:
		return 8
	default:
		return 0
	}
}

type (
	// Layout is a fixed width binary encoding descriptor.
	//
	// A bytes layout of Count n decodes to a single n byte block. Every other
	// kind decodes to Count integer values.
	Layout struct {
		Kind  LayoutKind
		Count int
	}
)

// Bytes is an n byte block decoded as one raw value
func Bytes(n int) Layout {
	return Layout{Kind: KindBytes, Count: n}
}

func Uint8s(n int) Layout {
	return Layout{Kind: KindUint8, Count: n}
}

func Uint16s(n int) Layout {
	return Layout{Kind: KindUint16, Count: n}
}

func Int16s(n int) Layout {
	return Layout{Kind: KindInt16, Count: n}
}

func Uint32s(n int) Layout {
	return Layout{Kind: KindUint32, Count: n}
}

func Uint64s(n int) Layout {
	return Layout{Kind: KindUint64, Count: n}
}

var (
	U8  = Uint8s(1)
	U16 = Uint16s(1)
	I16 = Int16s(1)
	U32 = Uint32s(1)
	U64 = Uint64s(1)
)

// Width returns the number of bytes occupied by the layout
func (l Layout) Width() int {
	return l.Kind.width() * l.Count
}

// NumValues returns the number of raw values produced by the layout
func (l Layout) NumValues() int {
	if l.Kind == KindBytes {
		return 1
	}
	return l.Count
}

type (
	// FormatFunc consumes raw values from the cursor and returns the formatted
	// field value
	FormatFunc func(c *Cursor) (any, error)

	// FieldSpec declares a named header field
	FieldSpec struct {
		Name   string
		Layout Layout
		Format FormatFunc
	}

	// Schema is an ordered list of fields whose layouts concatenate to a fixed
	// size header
	Schema struct {
		Name   string
		Fields []FieldSpec
		Size   int
	}
)

// NewSchema creates a schema and panics if the field layouts do not add up to
// size
func NewSchema(name string, size int, fields ...FieldSpec) Schema {
	s := Schema{
		Name:   name,
		Fields: fields,
		Size:   size,
	}
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}

// Width returns the summed width of the field layouts
func (s Schema) Width() int {
	w := 0
	for _, i := range s.Fields {
		w += i.Layout.Width()
	}
	return w
}

// Validate checks the schema against its declared size
func (s Schema) Validate() error {
	if w := s.Width(); w != s.Size {
		return fmt.Errorf("Schema %s is %d bytes wide but declares %d bytes", s.Name, w, s.Size)
	}
	names := map[string]struct{}{}
	for _, i := range s.Fields {
		if i.Layout.Count < 1 || i.Layout.Kind.width() == 0 {
			return fmt.Errorf("Schema %s field %s has an invalid layout", s.Name, i.Name)
		}
		if i.Format == nil {
			return fmt.Errorf("Schema %s field %s has no format", s.Name, i.Name)
		}
		if _, ok := names[i.Name]; ok {
			return fmt.Errorf("Schema %s has duplicate field %s", s.Name, i.Name)
		}
		names[i.Name] = struct{}{}
	}
	return nil
}

// Offset returns the byte offset of the named field within the schema
func (s Schema) Offset(name string) (int, bool) {
	off := 0
	for _, i := range s.Fields {
		if i.Name == name {
			return off, true
		}
		off += i.Layout.Width()
	}
	return 0, false
}

// numValues returns the total number of raw values decoded by the schema
func (s Schema) numValues() int {
	n := 0
	for _, i := range s.Fields {
		n += i.Layout.NumValues()
	}
	return n
}

type (
	// Cursor is a forward only view over the raw values of a decoded header
	Cursor struct {
		values []any
		pos    int
	}
)

// Consumed returns the number of raw values already consumed
func (c *Cursor) Consumed() int {
	return c.pos
}

// Remaining returns the number of raw values not yet consumed
func (c *Cursor) Remaining() int {
	return len(c.values) - c.pos
}

// Next returns the next raw value
func (c *Cursor) Next() (any, error) {
	if c.pos >= len(c.values) {
		return nil, kerrors.WithKind(nil, ErrCursor, "Raw values exhausted")
	}
	v := c.values[c.pos]
	c.pos++
	return v, nil
}

// NextUint returns the next raw value as an unsigned integer
func (c *Cursor) NextUint() (uint64, error) {
	v, err := c.Next()
	if err != nil {
		return 0, err
	}
	switch k := v.(type) {
	case uint8:
		return uint64(k), nil
	case uint16:
		return uint64(k), nil
	case uint32:
		return uint64(k), nil
	case uint64:
		return k, nil
	default:
		return 0, kerrors.WithKind(nil, ErrCursor, fmt.Sprintf("Raw value %d is not an unsigned integer", c.pos-1))
	}
}

// NextInt returns the next raw value as a signed integer
func (c *Cursor) NextInt() (int64, error) {
	v, err := c.Next()
	if err != nil {
		return 0, err
	}
	switch k := v.(type) {
	case int16:
		return int64(k), nil
	case uint8:
		return int64(k), nil
	case uint16:
		return int64(k), nil
	case uint32:
		return int64(k), nil
	default:
		return 0, kerrors.WithKind(nil, ErrCursor, fmt.Sprintf("Raw value %d is not a signed integer", c.pos-1))
	}
}

// NextBytes returns the next raw value as a byte block
func (c *Cursor) NextBytes() ([]byte, error) {
	v, err := c.Next()
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, kerrors.WithKind(nil, ErrCursor, fmt.Sprintf("Raw value %d is not a byte block", c.pos-1))
	}
	return b, nil
}

type (
	// Field is a decoded header field
	Field struct {
		Name  string `json:"name" yaml:"name"`
		Value any    `json:"value" yaml:"value"`
	}

	// Header is a decoded header with fields in schema order
	Header struct {
		Schema string
		Fields []Field
		byName map[string]int
	}
)

func newHeader(schema string, n int) *Header {
	return &Header{
		Schema: schema,
		Fields: make([]Field, 0, n),
		byName: make(map[string]int, n),
	}
}

func (h *Header) set(name string, value any) {
	h.byName[name] = len(h.Fields)
	h.Fields = append(h.Fields, Field{Name: name, Value: value})
}

// Get returns the formatted value of the named field
func (h *Header) Get(name string) (any, bool) {
	i, ok := h.byName[name]
	if !ok {
		return nil, false
	}
	return h.Fields[i].Value, true
}

// Uint returns the named field as an unsigned integer
func (h *Header) Uint(name string) (uint64, error) {
	v, ok := h.Get(name)
	if !ok {
		return 0, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Missing field %s", name))
	}
	switch k := v.(type) {
	case uint8:
		return uint64(k), nil
	case uint16:
		return uint64(k), nil
	case uint32:
		return uint64(k), nil
	case uint64:
		return k, nil
	default:
		return 0, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Field %s is not an unsigned integer", name))
	}
}

// Text returns the named field as a string
func (h *Header) Text(name string) (string, error) {
	v, ok := h.Get(name)
	if !ok {
		return "", kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Missing field %s", name))
	}
	switch k := v.(type) {
	case string:
		return k, nil
	case fmt.Stringer:
		return k.String(), nil
	default:
		return "", kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Field %s is not a string", name))
	}
}

// Time returns the named field as a time
func (h *Header) Time(name string) (time.Time, error) {
	v, ok := h.Get(name)
	if !ok {
		return time.Time{}, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Missing field %s", name))
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Field %s is not a time", name))
	}
	return t, nil
}

// Map returns the decoded fields keyed by name
func (h *Header) Map() map[string]any {
	m := make(map[string]any, len(h.Fields))
	for _, i := range h.Fields {
		m[i.Name] = i.Value
	}
	return m
}

// Decode reads exactly s.Size bytes from r and decodes them with the schema
func Decode(s Schema, r io.Reader) (*Header, error) {
	buf := make([]byte, s.Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, kerrors.WithKind(err, ErrTruncated, fmt.Sprintf("Short %s header", s.Name))
		}
		return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed reading %s header", s.Name))
	}
	return DecodeBytes(s, buf)
}

// DecodeBytes decodes a header from a buffer holding at least s.Size bytes
func DecodeBytes(s Schema, b []byte) (*Header, error) {
	if len(b) < s.Size {
		return nil, kerrors.WithKind(nil, ErrTruncated, fmt.Sprintf("Short %s header", s.Name))
	}
	c := &Cursor{
		values: unpack(s, b),
	}
	h := newHeader(s.Name, len(s.Fields))
	for _, i := range s.Fields {
		v, err := i.Format(c)
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed formatting %s field %s", s.Name, i.Name))
		}
		h.set(i.Name, v)
	}
	if c.Remaining() != 0 {
		return nil, kerrors.WithKind(nil, ErrCursor, fmt.Sprintf("Schema %s left %d raw values unconsumed", s.Name, c.Remaining()))
	}
	return h, nil
}

func unpack(s Schema, b []byte) []any {
	values := make([]any, 0, s.numValues())
	off := 0
	for _, f := range s.Fields {
		l := f.Layout
		if l.Kind == KindBytes {
			block := make([]byte, l.Count)
			copy(block, b[off:off+l.Count])
			values = append(values, block)
			off += l.Count
			continue
		}
		for range l.Count {
			switch l.Kind {
			case KindUint8:
				values = append(values, b[off])
			case KindUint16:
				values = append(values, binary.LittleEndian.Uint16(b[off:]))
			case KindInt16:
				values = append(values, int16(binary.LittleEndian.Uint16(b[off:])))
			case KindUint32:
				values = append(values, binary.LittleEndian.Uint32(b[off:]))
			case KindUint64:
				values = append(values, binary.LittleEndian.Uint64(b[off:]))
			}
			off += l.Kind.width()
		}
	}
	return values
}
