package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AudioReader is the audio device collaborator.
type AudioReader interface {
	// Open starts capture from device. Every Read returns blockFrames
	// sample frames of interleaved float32 samples.
	Open(device string, sampleRate, channels, blockFrames int) error
	// Read blocks until the next block is complete, or returns
	// ErrGrabTimeout when it was not complete in time.
	Read() ([]float32, error)
	Close() error
}

type AudioSourceOptions struct {
	Device        string
	SampleRate    int
	Channels      int
	Gain          float64
	BlockDuration time.Duration
	// MaxBufferBytes bounds the in-memory block sequence. Zero means unbounded.
	MaxBufferBytes int64
	Clock          func() time.Time
}

// BlockFrames is the number of sample frames per block.
func (o AudioSourceOptions) BlockFrames() int {
	return int(int64(o.SampleRate) * int64(o.BlockDuration) / int64(time.Second))
}

// AudioSource reads fixed-duration PCM blocks on its own goroutine. Its loop
// rate is derived from the block duration and is not locked to the
// FrameSource.
type AudioSource struct {
	reader AudioReader
	opts   AudioSourceOptions

	stop   *StopSignal
	start  time.Time
	blocks []AudioBlock
	bytes  int64
	runner runner

	started  bool
	stopOnce sync.Once
	stopErr  error
}

func NewAudioSource(reader AudioReader, opts AudioSourceOptions) *AudioSource {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Gain == 0 {
		opts.Gain = 1
	}
	return &AudioSource{reader: reader, opts: opts}
}

// Start opens the device and launches the read loop. Any failure is
// reported as ErrAudioUnavailable.
func (s *AudioSource) Start(sessionStart time.Time, stop *StopSignal) error {
	if s.started {
		return fmt.Errorf("audio source already started")
	}
	blockFrames := s.opts.BlockFrames()
	if blockFrames <= 0 || s.opts.Channels <= 0 {
		return &SourceError{Source: "audio", Kind: ErrAudioUnavailable,
			Err: fmt.Errorf("invalid block geometry: %d frames x %d channels", blockFrames, s.opts.Channels)}
	}
	if err := s.reader.Open(s.opts.Device, s.opts.SampleRate, s.opts.Channels, blockFrames); err != nil {
		return &SourceError{Source: "audio", Kind: ErrAudioUnavailable, Err: err}
	}

	s.stop = stop
	s.start = sessionStart
	s.started = true
	s.runner.start(s.loop)

	slog.Debug("Audio source started", "device", s.opts.Device, "sample_rate", s.opts.SampleRate,
		"channels", s.opts.Channels, "block_frames", blockFrames, "gain", s.opts.Gain)
	return nil
}

func (s *AudioSource) Done() <-chan struct{} {
	return s.runner.done
}

// Stop joins the read loop, closes the device and returns the blocks read.
func (s *AudioSource) Stop() ([]AudioBlock, error) {
	if !s.started {
		return nil, nil
	}
	s.stopOnce.Do(func() {
		s.stopErr = s.runner.join("audio", ErrAudioUnavailable)
		if err := s.reader.Close(); err != nil {
			slog.Debug("Audio reader close failed", "error", err)
		}
		slog.Debug("Audio source stopped", "blocks", len(s.blocks), "bytes", s.bytes)
	})
	return s.blocks, s.stopErr
}

func (s *AudioSource) loop() error {
	want := s.opts.BlockFrames() * s.opts.Channels
	var prev time.Duration

	for !s.runner.stopped(s.stop) {
		samples, err := s.reader.Read()
		if errors.Is(err, ErrGrabTimeout) {
			continue
		}
		if err != nil {
			return &SourceError{Source: "audio", Kind: ErrAudioUnavailable, Err: err}
		}
		if len(samples) != want {
			return &SourceError{Source: "audio", Kind: ErrAudioUnavailable,
				Err: fmt.Errorf("read %d samples, expected %d", len(samples), want)}
		}

		ApplyGain(samples, s.opts.Gain)

		// A block is stamped with the time its first sample was captured.
		ts := s.opts.Clock().Sub(s.start) - s.opts.BlockDuration
		ts = nextTimestamp(ts, prev, len(s.blocks) == 0)
		prev = ts

		s.blocks = append(s.blocks, AudioBlock{
			Seq:        uint64(len(s.blocks)),
			Timestamp:  ts,
			SampleRate: s.opts.SampleRate,
			Channels:   s.opts.Channels,
			Gain:       s.opts.Gain,
			Samples:    samples,
		})
		s.bytes += int64(len(samples) * 4)

		if s.opts.MaxBufferBytes > 0 && s.bytes >= s.opts.MaxBufferBytes {
			slog.Warn("Audio buffer limit reached", "blocks", len(s.blocks), "bytes", s.bytes)
			return errBufferLimit
		}
	}
	return nil
}

// ApplyGain multiplies every sample by gain and clips to [-1, 1]. Clipping is
// lossy when gain pushes loud passages past full scale.
func ApplyGain(samples []float32, gain float64) {
	g := float32(gain)
	for i, v := range samples {
		v *= g
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = v
	}
}
