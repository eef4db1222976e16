package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/screenrec/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "screenrec [output]",
	Short: "Synchronized screen and audio recorder",
	Long: `screenrec captures a monitor region and an audio device at the same
time and writes a single video file with both streams aligned.

Recording stops on 'q', Ctrl-C, SIGTERM or when the configured maximum
duration is reached. When an output path is given, it acts as
'screenrec record [output]'.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, os.Stderr)

		var err error
		cfg, err = loadConfig()
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordCmd.RunE(cmd, args)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/screenrec.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	addRecordFlags(rootCmd)

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(infoCmd)
}

// loadConfig reads the config file. A missing default file falls back to
// the built-in configuration; a missing --config file is an error.
func loadConfig() (*config.Config, error) {
	file := cfgFile
	if file == "" {
		file = config.DefaultConfigFile()
	}

	loaded, err := config.LoadWithProfile(file, profile)
	if err == nil {
		return loaded, nil
	}
	if cfgFile == "" && profile == "" && errors.Is(err, config.ErrConfigNotFound) {
		slog.Debug("No config file, using built-in defaults", "path", file)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, w io.Writer) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		// Levels 2 and 3 additionally raise ffmpeg's own log level
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(w, opts)
	slog.SetDefault(slog.New(handler))

	switch {
	case level >= 3:
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	case level == 2:
		os.Setenv("FFMPEG_LOGLEVEL", "info")
	}
}
