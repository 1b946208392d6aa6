package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

type (
	docFlags struct {
		outputDir string
	}
)

func (c *Cmd) getDocCmd() *cobra.Command {
	docCmd := &cobra.Command{
		Use:               "doc",
		Short:             "generate documentation for nsxrepair",
		Long:              `generate documentation for nsxrepair in several formats`,
		DisableAutoGenTag: true,
	}
	docCmd.PersistentFlags().StringVarP(&c.docFlags.outputDir, "output", "o", ".", "documentation output path")

	docCmd.AddCommand(&cobra.Command{
		Use:               "man",
		Short:             "generate man page documentation for nsxrepair",
		Long:              `generate man page documentation for nsxrepair`,
		Run:               c.execDocMan,
		DisableAutoGenTag: true,
	})
	docCmd.AddCommand(&cobra.Command{
		Use:               "md",
		Short:             "generate markdown documentation for nsxrepair",
		Long:              `generate markdown documentation for nsxrepair`,
		Run:               c.execDocMd,
		DisableAutoGenTag: true,
	})

	return docCmd
}

func (c *Cmd) execDocMan(cmd *cobra.Command, args []string) {
	if err := doc.GenManTree(c.rootCmd, &doc.GenManHeader{
		Title:   "nsxrepair",
		Section: "1",
		Source:  "nsxrepair " + c.version,
	}, c.docFlags.outputDir); err != nil {
		c.logFatal(err)
		return
	}
}

func (c *Cmd) execDocMd(cmd *cobra.Command, args []string) {
	if err := doc.GenMarkdownTree(c.rootCmd, c.docFlags.outputDir); err != nil {
		c.logFatal(err)
		return
	}
}
