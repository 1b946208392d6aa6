package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/nsxrepair/header"
)

var (
	// ErrMisaligned is returned when the segment region is not a whole number
	// of segment records
	ErrMisaligned errMisaligned
)

type (
	errMisaligned struct{}
)

func (e errMisaligned) Error() string {
	return "Misaligned segment region"
}

const (
	sampleWidth = 2
	// readChunkSize bounds the buffer used when the source has no mapped view
	readChunkSize = 1 << 20
)

var (
	timestampOffset   = mustOffset(header.FieldTimestamp)
	sampleCountOffset = mustOffset(header.FieldNumDataPoints)
)

func mustOffset(name string) int {
	off, ok := header.DataBlockSchema.Offset(name)
	if !ok {
		panic(fmt.Sprintf("Data block schema has no field %s", name))
	}
	return off
}

type (
	// Layout describes the fixed size segment records following the header
	Layout struct {
		HeaderBytes  int64
		ChannelCount int
		SegmentSize  int64
		NumSegments  int
	}

	// Index holds the timestamp and declared sample count of every segment in
	// file order
	Index struct {
		Layout       Layout
		Timestamps   []uint64
		SampleCounts []uint32
	}

	byteViewer interface {
		Bytes() []byte
	}
)

// SegmentSize returns the record size for a channel count
func SegmentSize(channelCount int) int64 {
	return int64(header.DataBlockSize) + sampleWidth*int64(channelCount)
}

// NewLayout computes the segment layout of a file
func NewLayout(size, headerBytes int64, channelCount int) (Layout, error) {
	if headerBytes < 0 || size < headerBytes {
		return Layout{}, kerrors.WithKind(nil, header.ErrTruncated, fmt.Sprintf("File of %d bytes is shorter than its %d byte header", size, headerBytes))
	}
	if channelCount < 1 {
		return Layout{}, kerrors.WithKind(nil, ErrMisaligned, fmt.Sprintf("Invalid channel count %d", channelCount))
	}
	segSize := SegmentSize(channelCount)
	region := size - headerBytes
	if region%segSize != 0 {
		return Layout{}, kerrors.WithKind(nil, ErrMisaligned, fmt.Sprintf("Segment region of %d bytes is not a multiple of the %d byte segment size", region, segSize))
	}
	return Layout{
		HeaderBytes:  headerBytes,
		ChannelCount: channelCount,
		SegmentSize:  segSize,
		NumSegments:  int(region / segSize),
	}, nil
}

// Offset returns the file offset of segment i
func (l Layout) Offset(i int) int64 {
	return l.HeaderBytes + int64(i)*l.SegmentSize
}

// Size returns the total file size described by the layout
func (l Layout) Size() int64 {
	return l.Offset(l.NumSegments)
}

// BuildIndex reads the timestamp and sample count of every segment record.
// Sources exposing a mapped byte view are read in place.
func BuildIndex(ctx context.Context, src io.ReaderAt, size, headerBytes int64, channelCount int) (*Index, error) {
	layout, err := NewLayout(size, headerBytes, channelCount)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		Layout:       layout,
		Timestamps:   make([]uint64, layout.NumSegments),
		SampleCounts: make([]uint32, layout.NumSegments),
	}
	if bv, ok := src.(byteViewer); ok {
		if b := bv.Bytes(); b != nil && int64(len(b)) >= size {
			idx.fill(0, b[headerBytes:size])
			return idx, nil
		}
	}
	chunkSegments := readChunkSize / int(layout.SegmentSize)
	if err := idx.readChunked(ctx, src, max(chunkSegments, 1)); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) fill(first int, b []byte) {
	segSize := int(idx.Layout.SegmentSize)
	for n := 0; n+segSize <= len(b); n += segSize {
		i := first + n/segSize
		idx.Timestamps[i] = binary.LittleEndian.Uint64(b[n+timestampOffset:])
		idx.SampleCounts[i] = binary.LittleEndian.Uint32(b[n+sampleCountOffset:])
	}
}

func (idx *Index) readChunked(ctx context.Context, src io.ReaderAt, chunkSegments int) error {
	l := idx.Layout
	buf := make([]byte, int64(min(chunkSegments, max(l.NumSegments, 1)))*l.SegmentSize)
	for first := 0; first < l.NumSegments; first += chunkSegments {
		if err := ctx.Err(); err != nil {
			return kerrors.WithMsg(err, "Index build canceled")
		}
		count := min(chunkSegments, l.NumSegments-first)
		b := buf[:int64(count)*l.SegmentSize]
		n, err := src.ReadAt(b, l.Offset(first))
		if n < len(b) {
			if err == nil || errors.Is(err, io.EOF) {
				return kerrors.WithKind(err, header.ErrTruncated, fmt.Sprintf("Short read of segments %d to %d", first, first+count-1))
			}
			return kerrors.WithMsg(err, fmt.Sprintf("Failed reading segments %d to %d", first, first+count-1))
		}
		idx.fill(first, b)
	}
	return nil
}
