package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/nsxrepair/header"
	"xorkevin.dev/nsxrepair/segment"
)

type (
	inspectFlags struct {
		format   string
		segments int
	}

	inspectOutput struct {
		Basic      *header.Header   `json:"basic" yaml:"basic"`
		Extended   []*header.Header `json:"extended" yaml:"extended"`
		Segments   int              `json:"segments" yaml:"segments"`
		DataBlocks []*header.Header `json:"data_blocks,omitempty" yaml:"data_blocks,omitempty"`
	}
)

func (c *Cmd) getInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:               "inspect file",
		Short:             "prints the headers of a recording",
		Long:              `prints the basic, extended, and leading data block headers of a recording`,
		Args:              cobra.ExactArgs(1),
		Run:               c.execInspect,
		DisableAutoGenTag: true,
	}
	inspectCmd.Flags().StringVarP(&c.inspectFlags.format, "format", "o", "yaml", "output format (json, yaml)")
	inspectCmd.Flags().IntVarP(&c.inspectFlags.segments, "segments", "n", 1, "number of leading data block headers to print")
	return inspectCmd
}

func (c *Cmd) execInspect(cmd *cobra.Command, args []string) {
	out, err := inspectFile(context.Background(), args[0], c.inspectFlags.segments)
	if err != nil {
		c.logFatal(err)
		return
	}
	if err := writeInspect(c.stdout, c.inspectFlags.format, out); err != nil {
		c.logFatal(err)
		return
	}
}

func inspectFile(ctx context.Context, name string, segments int) (_ *inspectOutput, retErr error) {
	src, err := segment.Open(name)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to open input")
	}
	defer func() {
		if err := src.Close(); err != nil {
			retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close input"))
		}
	}()
	fh, err := header.DecodeFileHeaders(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed decoding file headers")
	}
	if fh.Basic.Schema == header.Basic21Schema.Name {
		// 2.1 samples follow the channel ids without data block headers
		return &inspectOutput{
			Basic:    fh.Basic,
			Extended: fh.Extended,
		}, nil
	}
	headerBytes, err := fh.Basic.Uint(header.FieldBytesInHeader)
	if err != nil {
		return nil, err
	}
	layout, err := segment.NewLayout(src.Size(), int64(headerBytes), len(fh.Extended))
	if err != nil {
		return nil, kerrors.WithMsg(err, "Invalid segment layout")
	}
	out := &inspectOutput{
		Basic:    fh.Basic,
		Extended: fh.Extended,
		Segments: layout.NumSegments,
	}
	for i := range min(segments, layout.NumSegments) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := header.Decode(header.DataBlockSchema, io.NewSectionReader(src, layout.Offset(i), layout.SegmentSize))
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed decoding data block %d", i))
		}
		out.DataBlocks = append(out.DataBlocks, h)
	}
	return out, nil
}

func writeInspect(w io.Writer, format string, out *inspectOutput) error {
	switch format {
	case "json":
		j := json.NewEncoder(w)
		j.SetIndent("", "  ")
		if err := j.Encode(out); err != nil {
			return kerrors.WithMsg(err, "Failed writing headers")
		}
	case "yaml", "":
		y := yaml.NewEncoder(w)
		y.SetIndent(2)
		if err := y.Encode(out); err != nil {
			return kerrors.WithMsg(err, "Failed writing headers")
		}
		if err := y.Close(); err != nil {
			return kerrors.WithMsg(err, "Failed writing headers")
		}
	default:
		return kerrors.WithMsg(nil, fmt.Sprintf("Invalid output format %s", format))
	}
	return nil
}
