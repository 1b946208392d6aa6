package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"xorkevin.dev/hunter2/h2streamhash"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/deshuffle"
	"xorkevin.dev/nsxrepair/ledger"
	"xorkevin.dev/nsxrepair/segment"
)

type (
	repairFlags struct {
		maxBlockLen int
		verifyOrder bool
		copyIfClean bool
		ledger      bool
		force       bool
	}
)

func (c *Cmd) getRepairCmd() *cobra.Command {
	repairCmd := &cobra.Command{
		Use:   "repair input output",
		Short: "repairs a shuffled recording",
		Long: `repairs a shuffled recording

The output is created only after the input is confirmed to hold 3 breakpoint
segment shuffles. Every byte outside the shuffled segments is copied verbatim.`,
		Args:              cobra.ExactArgs(2),
		Run:               c.execRepair,
		DisableAutoGenTag: true,
	}
	addGuardFlags(repairCmd, &c.repairFlags)
	repairCmd.Flags().BoolVar(&c.repairFlags.copyIfClean, "copy-if-clean", false, "write a verbatim copy when no corruption is found")
	repairCmd.Flags().BoolVar(&c.repairFlags.ledger, "ledger", false, "record the run in the ledger")
	repairCmd.Flags().BoolVarP(&c.repairFlags.force, "force", "f", false, "overwrite an existing output file")
	return repairCmd
}

func addGuardFlags(cmd *cobra.Command, flags *repairFlags) {
	cmd.Flags().IntVar(&flags.maxBlockLen, "max-block-len", 0, "reject shuffles moving more than this many segments (0 is unbounded)")
	cmd.Flags().BoolVar(&flags.verifyOrder, "verify-order", false, "reject shuffles whose repair does not sort the segments")
}

func (c *Cmd) getGuard(cmd *cobra.Command, flags repairFlags) deshuffle.Guard {
	g := deshuffle.Guard{
		MaxBlockLen: viper.GetInt("repair.max_block_len"),
		VerifyOrder: viper.GetBool("repair.verify_order"),
	}
	if cmd.Flags().Changed("max-block-len") {
		g.MaxBlockLen = flags.maxBlockLen
	}
	if cmd.Flags().Changed("verify-order") {
		g.VerifyOrder = flags.verifyOrder
	}
	return g
}

func flagOrConfigBool(cmd *cobra.Command, flag string, v bool, key string) bool {
	if cmd.Flags().Changed(flag) {
		return v
	}
	return viper.GetBool(key)
}

func (c *Cmd) execRepair(cmd *cobra.Command, args []string) {
	opts := repairOpts{
		guard:       c.getGuard(cmd, c.repairFlags),
		copyIfClean: flagOrConfigBool(cmd, "copy-if-clean", c.repairFlags.copyIfClean, "repair.copy_if_clean"),
		force:       c.repairFlags.force,
	}
	if flagOrConfigBool(cmd, "ledger", c.repairFlags.ledger, "ledger.enabled") {
		opts.ledger = c.getLedger()
	}
	res, err := c.repairFile(context.Background(), args[0], args[1], opts)
	if err != nil {
		if res != nil && res.Status == deshuffle.StatusIncomplete {
			c.log.Error(context.Background(), "Output is incomplete and must not be used",
				klog.AString("output", args[1]),
			)
		}
		c.logFatal(err)
		return
	}
}

type (
	repairOpts struct {
		guard       deshuffle.Guard
		copyIfClean bool
		force       bool
		ledger      *ledger.Ledger
		openOutput  func(name string, flag int, perm fs.FileMode) (outputFile, error)
	}

	outputFile interface {
		io.Writer
		Sync() error
		Close() error
	}
)

func openOutputFile(name string, flag int, perm fs.FileMode) (outputFile, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func sameFile(inputInfo os.FileInfo, output string) (bool, error) {
	info, err := os.Stat(output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, kerrors.WithMsg(err, "Failed to stat output")
	}
	return os.SameFile(inputInfo, info), nil
}

func (c *Cmd) repairFile(ctx context.Context, input, output string, opts repairOpts) (retRes *deshuffle.Result, retErr error) {
	ctx = klog.CtxWithAttrs(ctx, klog.AString("input", input))

	run := ledger.Run{
		InputPath:  absPath(input),
		OutputPath: absPath(output),
		Status:     deshuffle.StatusFailed,
		StartedAt:  time.Now(),
	}
	if opts.ledger != nil {
		defer func() {
			run.FinishedAt = time.Now()
			if retErr != nil {
				run.Message = retErr.Error()
			}
			if _, err := opts.ledger.Record(ctx, run); err != nil {
				retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed recording run"))
			}
		}()
	}

	inputInfo, err := os.Stat(input)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to stat input")
	}
	if same, err := sameFile(inputInfo, output); err != nil {
		return nil, err
	} else if same {
		return nil, kerrors.WithMsg(nil, "Output must not be the input file")
	}

	src, err := segment.Open(input)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to open input")
	}
	defer func() {
		if err := src.Close(); err != nil {
			retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close input"))
		}
	}()
	size := src.Size()
	run.InputSize = size

	repairer := deshuffle.NewRepairer(c.log.Logger, opts.guard)
	plan, err := repairer.Analyze(ctx, src, size)
	if err != nil {
		if !errors.Is(err, deshuffle.ErrNoCorruption) {
			return nil, kerrors.WithMsg(err, "Failed analyzing input")
		}
		if !opts.copyIfClean {
			run.Status = deshuffle.StatusNoop
			run.Segments = plan.Layout.NumSegments
			run.OutputPath = ""
			c.log.Info(ctx, "No corruption found, no output written")
			return &deshuffle.Result{
				Status:   deshuffle.StatusNoop,
				Segments: plan.Layout.NumSegments,
			}, nil
		}
	}
	run.Triples = plan.Triples
	run.Segments = plan.Layout.NumSegments

	if opts.ledger != nil {
		sum, err := opts.ledger.Checksum(io.NewSectionReader(src, 0, size))
		if err != nil {
			return nil, kerrors.WithMsg(err, "Failed computing input checksum")
		}
		run.InputChecksum = sum
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if opts.force {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	openOutput := opts.openOutput
	if openOutput == nil {
		openOutput = openOutputFile
	}
	f, err := openOutput(output, flag, 0o644)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to create output")
	}
	defer func() {
		if err := f.Close(); err != nil {
			run.Status = deshuffle.StatusIncomplete
			if retRes != nil {
				retRes.Status = deshuffle.StatusIncomplete
			}
			retErr = errors.Join(retErr, kerrors.WithKind(err, deshuffle.ErrIO, "Failed to close output"))
		}
	}()

	var dst io.Writer = f
	var outHash h2streamhash.Hash
	if opts.ledger != nil {
		h, err := opts.ledger.Hash()
		if err != nil {
			return nil, err
		}
		outHash = h
		dst = io.MultiWriter(f, h)
	}

	res, err := repairer.Repair(ctx, plan, src, size, dst)
	if err != nil {
		if res != nil {
			run.Status = res.Status
		}
		return res, err
	}
	if err := f.Sync(); err != nil {
		run.Status = deshuffle.StatusIncomplete
		res.Status = deshuffle.StatusIncomplete
		return res, kerrors.WithKind(err, deshuffle.ErrIO, "Failed to sync output")
	}
	run.Status = res.Status
	if outHash != nil {
		if err := outHash.Close(); err != nil {
			return res, kerrors.WithMsg(err, "Failed closing stream hash")
		}
		run.OutputChecksum = outHash.Sum()
	}
	if res.Status == deshuffle.StatusRepaired {
		c.log.Info(ctx, fmt.Sprintf("%s is a copy of %s with deshuffled segments", output, input))
	} else {
		c.log.Info(ctx, fmt.Sprintf("%s is a verbatim copy of %s", output, input))
	}
	return res, nil
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}
