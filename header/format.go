package header

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"xorkevin.dev/kerrors"
)

// FormatRaw returns the next raw value unchanged
func FormatRaw(c *Cursor) (any, error) {
	return c.Next()
}

// FormatString decodes a fixed width latin-1 block and truncates it at the
// first NUL
func FormatString(c *Cursor) (any, error) {
	b, err := c.NextBytes()
	if err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return nil, kerrors.WithKind(err, ErrMalformedField, "Invalid latin-1 text")
	}
	return string(s), nil
}

// FormatVersion formats a major and minor byte pair as "major.minor"
func FormatVersion(c *Cursor) (any, error) {
	major, err := c.NextUint()
	if err != nil {
		return nil, err
	}
	minor, err := c.NextUint()
	if err != nil {
		return nil, err
	}
	return strconv.FormatUint(major, 10) + "." + strconv.FormatUint(minor, 10), nil
}

// FormatTimeOrigin consumes year, month, weekday, day, hour, minute, second,
// and millisecond values and returns a UTC time. The weekday is discarded.
func FormatTimeOrigin(c *Cursor) (any, error) {
	var parts [8]int
	for n := range parts {
		v, err := c.NextUint()
		if err != nil {
			return nil, err
		}
		parts[n] = int(v)
	}
	year, month, day := parts[0], parts[1], parts[3]
	hour, minute, second, milli := parts[4], parts[5], parts[6], parts[7]
	if year < 1 || month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 || milli > 999 {
		return nil, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Invalid time origin %v", parts))
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, milli*int(time.Millisecond), time.UTC)
	if t.Day() != day {
		return nil, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Invalid time origin day %d", day))
	}
	return t, nil
}

type (
	// Frequency is a corner frequency stored in millihertz
	Frequency uint32
)

// Hz returns the frequency in hertz
func (f Frequency) Hz() float64 {
	return float64(f) / 1000
}

func (f Frequency) String() string {
	s := strconv.FormatFloat(f.Hz(), 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s + " Hz"
}

func (f Frequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FormatFrequency formats a millihertz value
func FormatFrequency(c *Cursor) (any, error) {
	v, err := c.NextUint()
	if err != nil {
		return nil, err
	}
	return Frequency(v), nil
}

type (
	// FilterType is the kind of an analog filter
	FilterType uint16
)

const (
	FilterNone        FilterType = 0
	FilterButterworth FilterType = 1
)

func (f FilterType) String() string {
	switch f {
	case FilterNone:
		return "none"
	case FilterButterworth:
		return "butterworth"
	default:
		return "unknown(" + strconv.FormatUint(uint64(f), 10) + ")"
	}
}

func (f FilterType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FormatFilter maps a filter code to its filter type and rejects unknown codes
func FormatFilter(c *Cursor) (any, error) {
	v, err := c.NextUint()
	if err != nil {
		return nil, err
	}
	switch f := FilterType(v); f {
	case FilterNone, FilterButterworth:
		return f, nil
	default:
		return nil, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Unknown filter type %d", v))
	}
}
