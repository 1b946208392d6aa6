package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/ledger"
)

type (
	Cmd struct {
		rootCmd      *cobra.Command
		log          *klog.LevelLogger
		version      string
		stdout       io.Writer
		rootFlags    rootFlags
		repairFlags  repairFlags
		checkFlags   checkFlags
		inspectFlags inspectFlags
		ledgerFlags  ledgerFlags
		docFlags     docFlags
	}

	rootFlags struct {
		cfgFile  string
		dataDir  string
		logLevel string
		logJSON  bool
		logFile  string
	}

	logConfig struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	}
)

func New() *Cmd {
	return &Cmd{
		stdout: os.Stdout,
	}
}

func (c *Cmd) Execute() {
	if err := c.newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
		return
	}
}

func (c *Cmd) newRootCmd() *cobra.Command {
	buildinfo := ReadVCSBuildInfo()
	c.version = buildinfo.ModVersion
	rootCmd := &cobra.Command{
		Use:               "nsxrepair",
		Short:             "Repairs shuffled segments in sample group recordings",
		Long:              `Repairs the 3 breakpoint segment shuffle in NSx sample group recordings`,
		Version:           c.version,
		PersistentPreRun:  c.initConfig,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/nsxrepair/nsxrepair.json)")
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.dataDir, "data-dir", "", "data directory for the run ledger (default is $XDG_DATA_HOME/nsxrepair)")
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.logLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().BoolVar(&c.rootFlags.logJSON, "log-json", false, "output json logs")
	rootCmd.PersistentFlags().StringVar(&c.rootFlags.logFile, "log-file", "", "also write logs to a rotated log file")

	viper.SetDefault("ledger.dir", getXDGDataDir())
	viper.SetDefault("log.max_size_mb", 64)
	viper.SetDefault("log.max_backups", 4)
	viper.SetDefault("log.max_age_days", 28)
	viper.SetDefault("scan.match", defaultScanMatch)

	c.rootCmd = rootCmd

	rootCmd.AddCommand(c.getRepairCmd())
	rootCmd.AddCommand(c.getCheckCmd())
	rootCmd.AddCommand(c.getScanCmd())
	rootCmd.AddCommand(c.getInspectCmd())
	rootCmd.AddCommand(c.getLedgerCmd())
	rootCmd.AddCommand(c.getDocCmd())

	return rootCmd
}

func (c *Cmd) getLedger() *ledger.Ledger {
	dataDir := c.rootFlags.dataDir
	if dataDir == "" {
		dataDir = viper.GetString("ledger.dir")
		if dataDir == "" {
			dataDir = "."
		}
	}
	return ledger.New(c.log.Logger, filepath.ToSlash(dataDir))
}

// initConfig reads in config file and ENV variables if set.
func (c *Cmd) initConfig(cmd *cobra.Command, args []string) {
	if c.rootFlags.cfgFile != "" {
		viper.SetConfigFile(c.rootFlags.cfgFile)
	} else {
		viper.SetConfigName("nsxrepair")
		viper.AddConfigPath(".")

		// Search config in $XDG_CONFIG_HOME/nsxrepair directory
		if cfgdir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(cfgdir, "nsxrepair"))
		}
	}

	viper.SetEnvPrefix("NSXREPAIR")
	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	// If a config file is found, read it in.
	configErr := viper.ReadInConfig()

	var logCfg logConfig
	logCfgErr := viper.UnmarshalKey("log", &logCfg)
	if c.rootFlags.logFile != "" {
		logCfg.File = c.rootFlags.logFile
	}

	var w io.Writer = os.Stderr
	if logCfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
			Compress:   logCfg.Compress,
		})
	}
	logWriter := klog.NewSyncWriter(w)
	var handler *klog.SlogHandler
	if c.rootFlags.logJSON {
		handler = klog.NewJSONSlogHandler(logWriter)
	} else {
		handler = klog.NewTextSlogHandler(logWriter)
		handler.FieldTimeInfo = ""
		handler.FieldCaller = ""
		handler.FieldMod = ""
	}
	c.log = klog.NewLevelLogger(klog.New(
		klog.OptHandler(handler),
		klog.OptMinLevelStr(c.rootFlags.logLevel),
	))

	if configErr != nil {
		c.log.Debug(context.Background(), "Failed reading config", klog.AString("err", configErr.Error()))
	} else {
		c.log.Debug(context.Background(), "Using config", klog.AString("file", viper.ConfigFileUsed()))
	}
	if logCfgErr != nil {
		c.log.WarnErr(context.Background(), kerrors.WithMsg(logCfgErr, "Invalid log config"))
	}
}

func (c *Cmd) logFatal(err error) {
	c.log.Err(context.Background(), err)
	os.Exit(1)
}

func getXDGDataDir() string {
	if s := os.Getenv("XDG_DATA_HOME"); s != "" {
		return path.Join(filepath.ToSlash(s), "nsxrepair")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return path.Join(filepath.ToSlash(home), ".local", "share", "nsxrepair")
	}
	return ""
}
