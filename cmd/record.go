package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/screenrec/internal/capture"
	"github.com/audiolibrelab/screenrec/internal/config"
	"github.com/audiolibrelab/screenrec/internal/keyboard"
	"github.com/audiolibrelab/screenrec/internal/service"

	"github.com/spf13/cobra"
)

type recordFlags struct {
	fps               int
	region            string
	codec             string
	bitrate           string
	gain              float64
	noAudio           bool
	device            string
	duration          time.Duration
	keepIntermediates bool
}

var recFlags recordFlags

var recordCmd = &cobra.Command{
	Use:   "record [output]",
	Short: "Record the screen and an audio device",
	Long: `Record a monitor region together with an audio device and mux both into
a single video file. Press 'q' (or Ctrl-C) to stop. When stdin is not a
terminal, send "q" or an empty line.

The output path defaults to output.path from the config; {time} is
replaced by the start time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRecordFlags(cmd, cfg, recFlags); err != nil {
			return err
		}

		var output string
		if len(args) == 1 {
			output = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, cfgFile)

		keys := keyboard.NewListener(os.Stdin)
		defer keys.Restore()
		if keys.Raw() {
			setupLogging(verboseLevel, keyboard.CRLFWriter{W: os.Stderr})
			defer setupLogging(verboseLevel, os.Stderr)
		}
		go keys.Listen(func(key string) {
			if err := svc.StopRecording(fmt.Sprintf("key %s pressed", key)); err != nil {
				slog.Debug("Stop key ignored", "error", err)
			}
		})

		slog.Info("Recording started, press 'q' to stop",
			"region", cfg.Capture.Region.String(),
			"fps", cfg.Capture.FPS,
			"audio", cfg.Audio.RecordAudio)

		result, err := svc.Record(ctx, output)
		keys.Restore()
		if err != nil {
			if errors.Is(err, capture.ErrEmptySession) {
				return fmt.Errorf("nothing was recorded: %w", err)
			}
			return err
		}

		printResult(result)
		return nil
	},
}

func init() {
	addRecordFlags(recordCmd)
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&recFlags.fps, "fps", 0, "frames per second (overrides config)")
	cmd.Flags().StringVar(&recFlags.region, "region", "", "monitor region as WxH+X+Y (overrides config)")
	cmd.Flags().StringVar(&recFlags.codec, "codec", "", "video codec: h264 or h265 (overrides config)")
	cmd.Flags().StringVar(&recFlags.bitrate, "bitrate", "", "video bitrate, e.g. 4000k (overrides config)")
	cmd.Flags().Float64Var(&recFlags.gain, "gain", 0, "audio gain multiplier (overrides config)")
	cmd.Flags().BoolVar(&recFlags.noAudio, "no-audio", false, "record video only")
	cmd.Flags().StringVar(&recFlags.device, "device", "", "audio capture device (overrides config)")
	cmd.Flags().DurationVar(&recFlags.duration, "duration", 0, "stop after this duration, e.g. 90s (overrides config)")
	cmd.Flags().BoolVar(&recFlags.keepIntermediates, "keep-intermediates", false, "keep the intermediate video and audio files")
}

// applyRecordFlags copies explicitly set flags over the loaded
// configuration and validates the result.
func applyRecordFlags(cmd *cobra.Command, c *config.Config, f recordFlags) error {
	flags := cmd.Flags()
	if flags.Changed("fps") {
		c.Capture.FPS = f.fps
	}
	if flags.Changed("region") {
		region, err := config.ParseRegion(f.region)
		if err != nil {
			return err
		}
		c.Capture.Region = region
	}
	if flags.Changed("codec") {
		c.Output.Codec = f.codec
	}
	if flags.Changed("bitrate") {
		c.Output.Bitrate = f.bitrate
	}
	if flags.Changed("gain") {
		c.Audio.Gain = f.gain
	}
	if flags.Changed("no-audio") {
		c.Audio.RecordAudio = !f.noAudio
	}
	if flags.Changed("device") {
		c.Audio.Device = f.device
	}
	if flags.Changed("duration") {
		c.Limits.MaxDuration = f.duration
	}
	if flags.Changed("keep-intermediates") {
		c.Output.KeepIntermediates = f.keepIntermediates
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func printResult(r *service.RecordResult) {
	out := r.Output
	fmt.Printf("\n✅ Recording saved: %s\n", out.OutputPath)
	fmt.Printf("   stopped by: %s\n", r.StopReason)
	fmt.Printf("   frames: %d (%s)\n", out.Frames, out.VideoDuration.Round(time.Millisecond))
	if out.HasAudio {
		fmt.Printf("   audio: %s\n", out.AudioDuration.Round(time.Millisecond))
	} else {
		fmt.Printf("   audio: none\n")
	}
	fmt.Printf("   size: %d bytes\n", out.Size)
	if len(out.Intermediates) > 0 {
		fmt.Printf("   intermediates kept:\n")
		for _, p := range out.Intermediates {
			fmt.Printf("     %s\n", p)
		}
	}
	for _, w := range r.Warnings {
		fmt.Printf("⚠️  %v\n", w)
	}
}
