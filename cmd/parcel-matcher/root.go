package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/menta2k/parcel-matcher/internal/config"
	"github.com/menta2k/parcel-matcher/internal/logging"
)

var (
	cfgFile   string
	verbose   bool
	logFile   string
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "parcel-matcher",
	Short: "Match a parcel photo against a reference photo",
	Long: `Parcel Matcher decides whether two photos show the same parcel.

Both images go through the same stages: an object detector finds the parcel,
the selected box is cropped, VGG16 turns the crop into a 4096-d feature vector
and the two vectors are compared with cosine similarity. On a match the AWB
identifier is read from the last line of the lookup file.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	// finalizers also run when RunE fails, unlike PersistentPostRun
	cobra.OnFinalize(closeLog)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/parcel-matcher/config.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func closeLog() {
	if logCloser == nil {
		return
	}
	if err := logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	logCloser = nil
}

// setup loads the configuration and configures logging for every command
func setup(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(config.GetConfigPath()); err == nil {
			path = config.GetConfigPath()
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Verbose = true
	}
	if logFile != "" {
		loaded.Log.File = logFile
	}
	cfg = loaded

	logCloser, err = logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose,
	})
	if err != nil {
		return err
	}
	if path != "" {
		logging.Debugf("loaded config from %s", path)
	}
	return nil
}
