package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/nsxrepair/ledger"
)

type (
	ledgerFlags struct {
		output string
	}
)

func (c *Cmd) getLedgerCmd() *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:               "ledger",
		Short:             "manages the repair run ledger",
		Long:              `manages the repair run ledger`,
		DisableAutoGenTag: true,
	}

	exportCmd := &cobra.Command{
		Use:               "export",
		Short:             "exports recorded runs",
		Long:              `exports recorded runs as json lines`,
		Run:               c.execLedgerExport,
		DisableAutoGenTag: true,
	}
	exportCmd.Flags().StringVarP(&c.ledgerFlags.output, "output", "o", "-", "output file (- for stdout)")
	ledgerCmd.AddCommand(exportCmd)

	verifyCmd := &cobra.Command{
		Use:               "verify",
		Short:             "verifies recorded outputs",
		Long:              `recomputes the checksum of every recorded output and flags mismatches`,
		Run:               c.execLedgerVerify,
		DisableAutoGenTag: true,
	}
	ledgerCmd.AddCommand(verifyCmd)

	return ledgerCmd
}

func (c *Cmd) execLedgerExport(cmd *cobra.Command, args []string) {
	if err := c.exportLedger(context.Background(), c.getLedger(), c.ledgerFlags.output); err != nil {
		c.logFatal(err)
		return
	}
}

func (c *Cmd) exportLedger(ctx context.Context, l *ledger.Ledger, output string) (retErr error) {
	var w io.Writer = c.stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return kerrors.WithMsg(err, "Failed to create export file")
		}
		defer func() {
			if err := f.Close(); err != nil {
				retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close export file"))
			}
		}()
		w = f
	}
	if err := l.Export(ctx, w); err != nil {
		return kerrors.WithMsg(err, "Failed exporting ledger")
	}
	return nil
}

func (c *Cmd) execLedgerVerify(cmd *cobra.Command, args []string) {
	res, err := c.getLedger().Verify(context.Background())
	if err != nil {
		c.logFatal(err)
		return
	}
	failed := 0
	for _, i := range res {
		if i.Status != ledger.VerifyStatusOK {
			failed++
		}
		fmt.Fprintf(c.stdout, "%s %s: %s\n", i.ID, i.OutputPath, i.Status)
	}
	if failed > 0 {
		c.logFatal(kerrors.WithKind(nil, ledger.ErrMismatch, fmt.Sprintf("%d of %d outputs failed verification", failed, len(res))))
		return
	}
}
