package mux

import (
	"fmt"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/screenrec/internal/capture"
)

// alignAudio flattens the session's audio blocks into one interleaved
// sample stream whose first sample frame coincides with the first video
// frame. Audio captured before the first frame is dropped; if audio
// started later, the gap is filled with silence. No drift correction is
// applied after this anchor.
func alignAudio(s *capture.Session) []float32 {
	if !s.HasAudio() || len(s.Frames) == 0 {
		return nil
	}

	channels := s.Channels
	if channels <= 0 {
		channels = s.Audio[0].Channels
	}

	total := 0
	for i := range s.Audio {
		total += len(s.Audio[i].Samples)
	}

	offset := s.Audio[0].Timestamp - s.Frames[0].Timestamp
	shift := durationToFrames(absDuration(offset), s.SampleRate) * channels

	if offset >= 0 {
		out := make([]float32, shift, shift+total)
		for i := range s.Audio {
			out = append(out, s.Audio[i].Samples...)
		}
		return out
	}

	if shift >= total {
		return []float32{}
	}
	out := make([]float32, 0, total-shift)
	skip := shift
	for i := range s.Audio {
		samples := s.Audio[i].Samples
		if skip >= len(samples) {
			skip -= len(samples)
			continue
		}
		out = append(out, samples[skip:]...)
		skip = 0
	}
	return out
}

func durationToFrames(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// writeWAV encodes interleaved float32 samples as 16-bit PCM.
func writeWAV(fs afero.Fs, path string, samples []float32, rate, channels int) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  rate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		buf.Data[i] = floatToInt16(v)
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalise %s: %w", path, err)
	}
	return nil
}

func floatToInt16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(float64(v) * math.MaxInt16))
}
