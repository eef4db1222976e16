package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	bitratePattern = regexp.MustCompile(`^\d+(\.\d+)?[kKmM]?$`)

	captureBackends = []string{"x11grab", "gdigrab"}
	audioBackends   = []string{"pulse", "pipewire", "alsa", "dshow", "auto"}
	codecs          = []string{"h264", "h265"}
)

// Validate checks the resolved configuration. It is run after every load
// and again after command line overrides.
func (c *Config) Validate() error {
	if c.Capture.FPS < 1 || c.Capture.FPS > 240 {
		return fmt.Errorf("capture.fps must be between 1 and 240, got: %d", c.Capture.FPS)
	}
	if !oneOf(c.Capture.Backend, captureBackends) {
		return fmt.Errorf("capture.backend must be one of %v, got: %s", captureBackends, c.Capture.Backend)
	}
	if c.Capture.GrabTimeout < 0 {
		return fmt.Errorf("capture.grab_timeout must not be negative, got: %s", c.Capture.GrabTimeout)
	}
	r := c.Capture.Region
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("capture.monitor_region size must be positive, got: %dx%d", r.Width, r.Height)
	}
	if r.Top < 0 || r.Left < 0 {
		return fmt.Errorf("capture.monitor_region offsets must not be negative, got: top=%d left=%d", r.Top, r.Left)
	}

	if !oneOf(c.Output.Codec, codecs) {
		return fmt.Errorf("output.codec must be 'h264' or 'h265', got: %s", c.Output.Codec)
	}
	if c.Output.Bitrate != "" && !bitratePattern.MatchString(c.Output.Bitrate) {
		return fmt.Errorf("output.bitrate must look like 4000k or 4M, got: %s", c.Output.Bitrate)
	}
	if c.Output.AudioBitrate != "" && !bitratePattern.MatchString(c.Output.AudioBitrate) {
		return fmt.Errorf("output.audio_bitrate must look like 192k, got: %s", c.Output.AudioBitrate)
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path must not be empty")
	}

	if c.Audio.RecordAudio {
		if err := c.validateAudio(); err != nil {
			return err
		}
	}

	if c.Limits.MaxDuration < 0 {
		return fmt.Errorf("limits.max_duration must not be negative, got: %s", c.Limits.MaxDuration)
	}
	if c.Limits.MaxBufferBytes < 0 {
		return fmt.Errorf("limits.max_buffer_bytes must not be negative, got: %d", c.Limits.MaxBufferBytes)
	}
	return nil
}

func (c *Config) validateAudio() error {
	a := c.Audio
	if !oneOf(a.Backend, audioBackends) {
		return fmt.Errorf("audio.backend must be one of %v, got: %s", audioBackends, a.Backend)
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", a.Channels)
	}
	if a.Gain <= 0 {
		return fmt.Errorf("audio.gain must be positive, got: %g", a.Gain)
	}
	if a.BlockDuration < 10*time.Millisecond || a.BlockDuration > time.Second {
		return fmt.Errorf("audio.block_duration must be between 10ms and 1s, got: %s", a.BlockDuration)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
