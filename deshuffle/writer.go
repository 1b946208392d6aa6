package deshuffle

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/nsxrepair/header"
	"xorkevin.dev/nsxrepair/segment"
)

const (
	copyBufferSize = 1 << 20
)

type (
	// ProgressFunc is called after the k-th of n triples is written
	ProgressFunc func(k, n int, t Triple)

	countWriter struct {
		w   io.Writer
		n   int64
		err error
	}

	rangeCopier struct {
		src io.ReaderAt
		w   *bufio.Writer
		out *countWriter
	}
)

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (c *rangeCopier) copyRange(off, n int64) error {
	if n == 0 {
		return nil
	}
	k, err := io.Copy(c.w, io.NewSectionReader(c.src, off, n))
	if c.out.err != nil {
		return kerrors.WithKind(c.out.err, ErrIO, "Failed writing output")
	}
	if err != nil {
		return kerrors.WithMsg(err, fmt.Sprintf("Failed reading %d bytes at offset %d", n, off))
	}
	if k != n {
		return kerrors.WithKind(nil, header.ErrTruncated, fmt.Sprintf("Short read of %d of %d bytes at offset %d", k, n, off))
	}
	return nil
}

func (c *rangeCopier) copySegments(l segment.Layout, first, count int) error {
	return c.copyRange(l.Offset(first), int64(count)*l.SegmentSize)
}

// WriteRepaired writes src to dst with the segments of every triple swapped
// back into timestamp order. The header and every segment outside the
// triples are copied verbatim.
func WriteRepaired(ctx context.Context, dst io.Writer, src io.ReaderAt, size int64, layout segment.Layout, triples []Triple, progress ProgressFunc) (int64, error) {
	if layout.Size() != size {
		return 0, kerrors.WithKind(nil, segment.ErrMisaligned, fmt.Sprintf("Layout covers %d bytes of a %d byte file", layout.Size(), size))
	}
	lastEnd := 0
	for _, t := range triples {
		if t.A+1 < lastEnd || t.ShiftedLen() < 1 || t.BadLen() < 1 || t.C >= layout.NumSegments {
			return 0, kerrors.WithKind(nil, ErrUnrecognizedPattern, fmt.Sprintf("Invalid triple %s", t))
		}
		lastEnd = t.C + 1
	}

	out := &countWriter{w: dst}
	c := &rangeCopier{
		src: src,
		w:   bufio.NewWriterSize(out, copyBufferSize),
		out: out,
	}
	if err := c.copyRange(0, layout.HeaderBytes); err != nil {
		return out.n, err
	}
	lastEnd = 0
	for k, t := range triples {
		if err := ctx.Err(); err != nil {
			return out.n, kerrors.WithMsg(err, "Repair canceled")
		}
		if err := c.copySegments(layout, lastEnd, t.A+1-lastEnd); err != nil {
			return out.n, err
		}
		if err := c.copySegments(layout, t.A+1+t.BadLen(), t.ShiftedLen()); err != nil {
			return out.n, err
		}
		if err := c.copySegments(layout, t.A+1, t.BadLen()); err != nil {
			return out.n, err
		}
		lastEnd = t.C + 1
		if progress != nil {
			progress(k+1, len(triples), t)
		}
	}
	if err := c.copyRange(layout.Offset(lastEnd), size-layout.Offset(lastEnd)); err != nil {
		return out.n, err
	}
	if err := c.w.Flush(); err != nil {
		return out.n, kerrors.WithKind(err, ErrIO, "Failed flushing output")
	}
	if out.n != size {
		return out.n, kerrors.WithKind(nil, ErrIO, fmt.Sprintf("Wrote %d of %d bytes", out.n, size))
	}
	return out.n, nil
}
