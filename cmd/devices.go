package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/screenrec/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available audio capture devices",
	Long: `List the capture devices known to the sound server. Monitor sources
record what the system is playing; use one as audio.device to capture
application sound.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.ParseBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}

		fmt.Printf("🎵 Audio Devices (%s, backend %s)\n", runtime.GOOS, backend)
		fmt.Printf("═══════════════════════════════════════\n\n")

		if backend != audio.BackendPulse {
			fmt.Printf("Device listing needs the pulse backend.\n")
			fmt.Printf("Backends: %v\n", audio.GetAvailableBackends())
			fmt.Printf("For %s run: %s -hide_banner -sources %s\n", backend, cfg.FFmpeg.Path, backend)
			return nil
		}

		sources, err := audio.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get audio devices: %w", err)
		}

		fmt.Printf("📋 SOURCES (%d found):\n", len(sources))
		for _, s := range sources {
			kind := "input"
			if s.IsMonitor {
				kind = "monitor"
			}
			current := ""
			if s.Name == cfg.Audio.Device {
				current = " ← configured"
			}
			fmt.Printf("  %s. %s [%s, %s, %s]%s\n", s.Index, s.Name, kind, s.Format, s.State, current)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Set audio.device to a source name, or use @DEFAULT_MONITOR@ / @DEFAULT_SOURCE@\n")
		fmt.Printf("  • Example: screenrec record --device %q\n\n", exampleDevice(sources))
		return nil
	},
}

func exampleDevice(sources []audio.Source) string {
	for _, s := range sources {
		if s.IsMonitor {
			return s.Name
		}
	}
	if len(sources) > 0 {
		return sources[0].Name
	}
	return "@DEFAULT_MONITOR@"
}
