package cmd

import (
	"fmt"

	"github.com/audiolibrelab/screenrec/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a finished recording",
	Long: `Play a recording with the first available video player (mpv, ffplay
or vlc). Without an argument, plays output.path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var file string
		if len(args) == 1 {
			file = args[0]
		}

		svc := service.New(cfg, cfgFile)
		if err := svc.Play(file); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
