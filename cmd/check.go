package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/kfs"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/deshuffle"
	"xorkevin.dev/nsxrepair/segment"
)

const (
	defaultScanMatch = `\.ns[1-6]$`

	reportClean    = "clean"
	reportShuffled = "shuffled"
	reportFailed   = "failed"
)

type (
	checkFlags struct {
		repair repairFlags
		format string
		match  string
	}

	fileReport struct {
		Path     string             `json:"path" yaml:"path"`
		Status   string             `json:"status" yaml:"status"`
		Segments int                `json:"segments" yaml:"segments"`
		Triples  []deshuffle.Triple `json:"triples,omitempty" yaml:"triples,omitempty"`
		Error    string             `json:"error,omitempty" yaml:"error,omitempty"`
	}
)

func (c *Cmd) getCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:               "check file...",
		Short:             "checks recordings for shuffled segments",
		Long:              `checks recordings for shuffled segments without writing any output`,
		Args:              cobra.MinimumNArgs(1),
		Run:               c.execCheck,
		DisableAutoGenTag: true,
	}
	addGuardFlags(checkCmd, &c.checkFlags.repair)
	checkCmd.Flags().StringVarP(&c.checkFlags.format, "format", "o", "text", "output format (text, json, yaml)")
	return checkCmd
}

func (c *Cmd) getScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:               "scan dir",
		Short:             "scans a directory for shuffled recordings",
		Long:              `scans a directory tree for recordings matching a pattern and checks each for shuffled segments`,
		Args:              cobra.ExactArgs(1),
		Run:               c.execScan,
		DisableAutoGenTag: true,
	}
	addGuardFlags(scanCmd, &c.checkFlags.repair)
	scanCmd.Flags().StringVarP(&c.checkFlags.format, "format", "o", "text", "output format (text, json, yaml)")
	scanCmd.Flags().StringVarP(&c.checkFlags.match, "match", "m", "", "file name regex (default is "+defaultScanMatch+")")
	return scanCmd
}

func (c *Cmd) execCheck(cmd *cobra.Command, args []string) {
	repairer := deshuffle.NewRepairer(c.log.Logger, c.getGuard(cmd, c.checkFlags.repair))
	reports := make([]fileReport, 0, len(args))
	for _, i := range args {
		reports = append(reports, c.checkFile(context.Background(), repairer, i))
	}
	if err := writeReports(c.stdout, c.checkFlags.format, reports); err != nil {
		c.logFatal(err)
		return
	}
}

func (c *Cmd) execScan(cmd *cobra.Command, args []string) {
	match := c.checkFlags.match
	if match == "" {
		match = viper.GetString("scan.match")
	}
	repairer := deshuffle.NewRepairer(c.log.Logger, c.getGuard(cmd, c.checkFlags.repair))
	reports, err := c.scanDir(context.Background(), repairer, args[0], match)
	if err != nil {
		c.logFatal(err)
		return
	}
	if err := writeReports(c.stdout, c.checkFlags.format, reports); err != nil {
		c.logFatal(err)
		return
	}
}

func (c *Cmd) scanDir(ctx context.Context, repairer *deshuffle.Repairer, root string, match string) ([]fileReport, error) {
	r, err := regexp.Compile(match)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Invalid match regex")
	}
	var reports []fileReport
	if err := fs.WalkDir(kfs.DirFS(root), ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return kerrors.WithMsg(err, fmt.Sprintf("Failed to read %s", p))
		}
		if entry.IsDir() {
			c.log.Debug(ctx, "Exploring dir", klog.AString("path", p))
			return nil
		}
		if !entry.Type().IsRegular() || !r.MatchString(path.Base(p)) {
			c.log.Debug(ctx, "Skipping unmatched file", klog.AString("path", p))
			return nil
		}
		reports = append(reports, c.checkFile(ctx, repairer, filepath.Join(root, filepath.FromSlash(p))))
		return nil
	}); err != nil {
		return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed to scan %s", root))
	}
	return reports, nil
}

func (c *Cmd) checkFile(ctx context.Context, repairer *deshuffle.Repairer, name string) fileReport {
	ctx = klog.CtxWithAttrs(ctx, klog.AString("input", name))
	report := fileReport{
		Path: name,
	}
	plan, err := c.analyzeFile(ctx, repairer, name)
	switch {
	case err == nil:
		report.Status = reportShuffled
		report.Segments = plan.Layout.NumSegments
		report.Triples = plan.Triples
	case errors.Is(err, deshuffle.ErrNoCorruption):
		report.Status = reportClean
		report.Segments = plan.Layout.NumSegments
	default:
		c.log.WarnErr(ctx, err)
		report.Status = reportFailed
		report.Error = err.Error()
	}
	return report
}

func (c *Cmd) analyzeFile(ctx context.Context, repairer *deshuffle.Repairer, name string) (_ *deshuffle.Plan, retErr error) {
	src, err := segment.Open(name)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to open input")
	}
	defer func() {
		if err := src.Close(); err != nil {
			retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close input"))
		}
	}()
	return repairer.Analyze(ctx, src, src.Size())
}

func writeReports(w io.Writer, format string, reports []fileReport) error {
	switch format {
	case "json":
		j := json.NewEncoder(w)
		for _, i := range reports {
			if err := j.Encode(i); err != nil {
				return kerrors.WithMsg(err, "Failed writing report")
			}
		}
	case "yaml":
		y := yaml.NewEncoder(w)
		if err := y.Encode(reports); err != nil {
			return kerrors.WithMsg(err, "Failed writing report")
		}
		if err := y.Close(); err != nil {
			return kerrors.WithMsg(err, "Failed writing report")
		}
	case "text", "":
		for _, i := range reports {
			var err error
			switch i.Status {
			case reportShuffled:
				_, err = fmt.Fprintf(w, "%s: %s, %d segments, %d shuffles %v\n", i.Path, i.Status, i.Segments, len(i.Triples), i.Triples)
			case reportClean:
				_, err = fmt.Fprintf(w, "%s: %s, %d segments\n", i.Path, i.Status, i.Segments)
			default:
				_, err = fmt.Fprintf(w, "%s: %s: %s\n", i.Path, i.Status, i.Error)
			}
			if err != nil {
				return kerrors.WithMsg(err, "Failed writing report")
			}
		}
	default:
		return kerrors.WithMsg(nil, fmt.Sprintf("Invalid output format %s", format))
	}
	return nil
}
