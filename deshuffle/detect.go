package deshuffle

import (
	"cmp"
	"fmt"
	"slices"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/nsxrepair/segment"
)

var (
	// ErrInputFormat is returned when the input is not a sample group recording
	ErrInputFormat errInputFormat
	// ErrUnsupportedShape is returned when a segment holds other than one
	// sample
	ErrUnsupportedShape errUnsupportedShape
	// ErrNoCorruption is returned when segment timestamps are already in order
	ErrNoCorruption errNoCorruption
	// ErrUnrecognizedPattern is returned when the out of order segments do not
	// form 3 breakpoint shuffles
	ErrUnrecognizedPattern errUnrecognizedPattern
	// ErrIO is returned when the repaired output cannot be written
	ErrIO errIO
)

type (
	errInputFormat         struct{}
	errUnsupportedShape    struct{}
	errNoCorruption        struct{}
	errUnrecognizedPattern struct{}
	errIO                  struct{}
)

func (e errInputFormat) Error() string {
	return "Unsupported input file type"
}

func (e errUnsupportedShape) Error() string {
	return "Unsupported segment shape"
}

func (e errNoCorruption) Error() string {
	return "No corruption found"
}

func (e errUnrecognizedPattern) Error() string {
	return "Unrecognized corruption pattern"
}

func (e errIO) Error() string {
	return "Output write failed"
}

type (
	// Triple is a 3 breakpoint shuffle. Segments (A, B] in timestamp order were
	// written after segments (B, C].
	Triple struct {
		A int `json:"a" yaml:"a"`
		B int `json:"b" yaml:"b"`
		C int `json:"c" yaml:"c"`
	}

	// Guard bounds the shuffles accepted by [Detect]
	Guard struct {
		// MaxBlockLen rejects shuffles moving more than this many segments in
		// either block. Zero is unbounded.
		MaxBlockLen int `mapstructure:"max_block_len"`
		// VerifyOrder rejects triples whose repaired order is not sorted by
		// timestamp
		VerifyOrder bool `mapstructure:"verify_order"`
	}
)

// ShiftedLen is the number of segments written late that belong first
func (t Triple) ShiftedLen() int {
	return t.B - t.A
}

// BadLen is the number of segments written early that belong last
func (t Triple) BadLen() int {
	return t.C - t.B
}

func (t Triple) String() string {
	return fmt.Sprintf("(%d,%d,%d)", t.A, t.B, t.C)
}

// SortOrder returns the stable argsort of the timestamps
func SortOrder(timestamps []uint64) []int {
	order := make([]int, len(timestamps))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(timestamps[a], timestamps[b])
	})
	return order
}

// Breaks returns the positions p of the sort order where segment order[p+1]
// does not directly follow segment order[p] in the file
func Breaks(order []int) []int {
	var breaks []int
	for p := 0; p+1 < len(order); p++ {
		if order[p+1]-order[p] != 1 {
			breaks = append(breaks, p)
		}
	}
	return breaks
}

// Detect locates the 3 breakpoint shuffles of an index
func Detect(idx *segment.Index, g Guard) ([]Triple, error) {
	for n, i := range idx.SampleCounts {
		if i != 1 {
			return nil, kerrors.WithKind(nil, ErrUnsupportedShape, fmt.Sprintf("Segment %d declares %d samples", n, i))
		}
	}
	breaks := Breaks(SortOrder(idx.Timestamps))
	if len(breaks) == 0 {
		return nil, kerrors.WithKind(nil, ErrNoCorruption, "Segment timestamps are ordered")
	}
	if len(breaks)%3 != 0 {
		return nil, kerrors.WithKind(nil, ErrUnrecognizedPattern, fmt.Sprintf("%d order breaks do not form triples", len(breaks)))
	}
	triples := make([]Triple, 0, len(breaks)/3)
	for k := 0; k < len(breaks); k += 3 {
		t := Triple{A: breaks[k], B: breaks[k+1], C: breaks[k+2]}
		if t.ShiftedLen() < 1 || t.BadLen() < 1 {
			return nil, kerrors.WithKind(nil, ErrUnrecognizedPattern, fmt.Sprintf("Triple %s has an empty block", t))
		}
		if g.MaxBlockLen > 0 && (t.ShiftedLen() > g.MaxBlockLen || t.BadLen() > g.MaxBlockLen) {
			return nil, kerrors.WithKind(nil, ErrUnrecognizedPattern, fmt.Sprintf("Triple %s moves more than %d segments", t, g.MaxBlockLen))
		}
		triples = append(triples, t)
	}
	if g.VerifyOrder {
		order := RepairedOrder(len(idx.Timestamps), triples)
		for p := 1; p < len(order); p++ {
			if idx.Timestamps[order[p]] < idx.Timestamps[order[p-1]] {
				return nil, kerrors.WithKind(nil, ErrUnrecognizedPattern, fmt.Sprintf("Repaired segment %d is out of order", p))
			}
		}
	}
	return triples, nil
}

// RepairedOrder returns the source segment of every output segment after
// repairing n segments
func RepairedOrder(n int, triples []Triple) []int {
	order := make([]int, 0, n)
	appendRange := func(start, count int) {
		for i := range count {
			order = append(order, start+i)
		}
	}
	lastEnd := 0
	for _, t := range triples {
		appendRange(lastEnd, t.A+1-lastEnd)
		appendRange(t.A+1+t.BadLen(), t.ShiftedLen())
		appendRange(t.A+1, t.BadLen())
		lastEnd = t.C + 1
	}
	appendRange(lastEnd, n-lastEnd)
	return order
}
