package deshuffle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/header"
	"xorkevin.dev/nsxrepair/segment"
	"xorkevin.dev/nsxrepair/util/bytefmt"
)

const (
	// FileTypeSampleGroup is the only file type affected by the shuffle
	FileTypeSampleGroup = header.FileTypeSampleGroup
)

type (
	// Plan is the result of analyzing a recording
	Plan struct {
		Header  *header.Header
		Layout  segment.Layout
		Triples []Triple
	}

	// Status is the outcome of a repair run
	Status string

	// Result describes a repair run
	Result struct {
		Status       Status   `json:"status" yaml:"status"`
		Triples      []Triple `json:"triples" yaml:"triples"`
		Segments     int      `json:"segments" yaml:"segments"`
		BytesWritten int64    `json:"bytes_written" yaml:"bytes_written"`
	}
)

const (
	// StatusNoop is a verbatim copy of an uncorrupted recording
	StatusNoop Status = "noop"
	// StatusRepaired is a complete repaired recording
	StatusRepaired Status = "repaired"
	// StatusIncomplete is an output that failed while being written and must
	// not be used
	StatusIncomplete Status = "incomplete"
	// StatusFailed is a recording that was rejected before any output was
	// written
	StatusFailed Status = "failed"
)

// Analyze decodes the basic header of a recording, indexes its segments, and
// detects shuffles. When no shuffles are found the plan is returned along
// with [ErrNoCorruption].
func Analyze(ctx context.Context, src io.ReaderAt, size int64, g Guard) (*Plan, error) {
	basic, err := header.Decode(header.BasicSchema, io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed decoding basic header")
	}
	fileType, err := basic.Text(header.FieldFileType)
	if err != nil {
		return nil, err
	}
	if fileType != FileTypeSampleGroup {
		return nil, kerrors.WithKind(nil, ErrInputFormat, fmt.Sprintf("File type %q is not %s", fileType, FileTypeSampleGroup))
	}
	headerBytes, err := basic.Uint(header.FieldBytesInHeader)
	if err != nil {
		return nil, err
	}
	if headerBytes < header.BasicSize {
		return nil, kerrors.WithKind(nil, ErrInputFormat, fmt.Sprintf("Declared header of %d bytes is shorter than the basic header", headerBytes))
	}
	channels, err := basic.Uint(header.FieldChannelCount)
	if err != nil {
		return nil, err
	}
	idx, err := segment.BuildIndex(ctx, src, size, int64(headerBytes), int(channels))
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed indexing segments")
	}
	plan := &Plan{
		Header: basic,
		Layout: idx.Layout,
	}
	triples, err := Detect(idx, g)
	if err != nil {
		if errors.Is(err, ErrNoCorruption) {
			return plan, err
		}
		return nil, err
	}
	plan.Triples = triples
	return plan, nil
}

type (
	// Repairer analyzes and repairs recordings
	Repairer struct {
		log   *klog.LevelLogger
		guard Guard
	}
)

// NewRepairer creates a new [*Repairer]
func NewRepairer(log klog.Logger, g Guard) *Repairer {
	return &Repairer{
		log:   klog.NewLevelLogger(log),
		guard: g,
	}
}

// Analyze analyzes a recording and logs the outcome
func (r *Repairer) Analyze(ctx context.Context, src io.ReaderAt, size int64) (*Plan, error) {
	plan, err := Analyze(ctx, src, size, r.guard)
	if err != nil {
		if errors.Is(err, ErrNoCorruption) {
			r.log.Info(ctx, "Segment timestamps are ordered",
				klog.AInt("segments", plan.Layout.NumSegments),
			)
			return plan, err
		}
		return nil, err
	}
	r.log.Info(ctx, "Found shuffled segments",
		klog.AInt("segments", plan.Layout.NumSegments),
		klog.AInt("channels", plan.Layout.ChannelCount),
		klog.AInt("triples", len(plan.Triples)),
		klog.AString("size", bytefmt.ToString(float64(size))),
	)
	return plan, nil
}

// Repair writes the repaired recording to dst. A plan without triples
// produces a verbatim copy.
func (r *Repairer) Repair(ctx context.Context, plan *Plan, src io.ReaderAt, size int64, dst io.Writer) (*Result, error) {
	res := &Result{
		Triples:  plan.Triples,
		Segments: plan.Layout.NumSegments,
	}
	n, err := WriteRepaired(ctx, dst, src, size, plan.Layout, plan.Triples, func(k, total int, t Triple) {
		r.log.Info(ctx, fmt.Sprintf("%d of %d index errors addressed", k, total),
			klog.AInt("shifted", t.ShiftedLen()),
			klog.AInt("bad", t.BadLen()),
		)
	})
	res.BytesWritten = n
	if err != nil {
		res.Status = StatusIncomplete
		return res, kerrors.WithMsg(err, "Failed writing repaired recording")
	}
	if len(plan.Triples) == 0 {
		res.Status = StatusNoop
	} else {
		res.Status = StatusRepaired
	}
	r.log.Info(ctx, "Wrote recording",
		klog.AString("status", string(res.Status)),
		klog.AString("written", bytefmt.ToString(float64(n))),
	)
	return res, nil
}
