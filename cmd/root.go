package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
	logCloser    io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "dictate",
	Short: "Voice dictation into any application",
	Long: `dictate records your voice, transcribes it with a Whisper-compatible
cloud API (Groq or OpenAI) and pastes the text at the cursor.

Run 'dictate record' for a one-shot dictation or 'dictate serve' to control
recording from a hotkey daemon over a local HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Console logging first so config errors are reported consistently
		setupLogging(config.LogConfig{}, verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultFile()
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		setupLogging(cfg.Log, verboseLevel)
		slog.Debug("Configuration loaded", "file", cfg.File, "provider", cfg.Provider.Name, "backend", cfg.Audio.Backend)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dictate.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging installs the default slog logger, rotating to cfg.File when set
func setupLogging(cfg config.LogConfig, level int) {
	if logCloser != nil {
		logCloser.Close()
	}

	var logger *slog.Logger
	logger, logCloser = logging.New(cfg, logging.LevelFor(level))
	slog.SetDefault(logger)
}
