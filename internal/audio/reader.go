package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/audiolibrelab/screenrec/internal/capture"
	"github.com/audiolibrelab/screenrec/internal/ffmpeg"
)

const bytesPerSample = 4

// ReaderOptions configures an FFmpegReader.
type ReaderOptions struct {
	FFmpegPath string
	Backend    Backend
	// ReadTimeout bounds how long Read waits for a block.
	ReadTimeout time.Duration
}

// FFmpegReader captures interleaved float32 PCM from an ffmpeg audio input.
type FFmpegReader struct {
	opts ReaderOptions

	proc   *ffmpeg.Process
	chunks *ffmpeg.ChunkReader
}

func NewFFmpegReader(opts ReaderOptions) *FFmpegReader {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Backend == "" {
		opts.Backend = BackendPulse
	}
	return &FFmpegReader{opts: opts}
}

func (r *FFmpegReader) Open(device string, sampleRate, channels, blockFrames int) error {
	args, err := buildArgs(r.opts.Backend, device, sampleRate, channels)
	if err != nil {
		return err
	}
	if blockFrames <= 0 {
		return fmt.Errorf("invalid block size %d", blockFrames)
	}

	proc, err := ffmpeg.Start("audio", r.opts.FFmpegPath, args)
	if err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	r.proc = proc
	r.chunks = ffmpeg.NewChunkReader(proc.Stdout(), blockFrames*channels*bytesPerSample, r.opts.ReadTimeout)

	slog.Info("Audio capture opened", "backend", r.opts.Backend, "device", device, "sample_rate", sampleRate, "channels", channels)
	return nil
}

func (r *FFmpegReader) Read() ([]float32, error) {
	if r.chunks == nil {
		return nil, fmt.Errorf("audio capture not opened")
	}
	raw, err := r.chunks.Next()
	if errors.Is(err, ffmpeg.ErrTimeout) {
		select {
		case <-r.proc.Exited():
			return nil, r.proc.ExitError()
		default:
		}
		return nil, capture.ErrGrabTimeout
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			<-r.proc.Exited()
			return nil, r.proc.ExitError()
		}
		return nil, fmt.Errorf("failed to read audio block: %w", err)
	}
	return decodeF32LE(raw), nil
}

func (r *FFmpegReader) Close() error {
	if r.proc == nil {
		return nil
	}
	err := r.proc.Stop(ffmpeg.DefaultStopTimeout)
	r.proc = nil
	r.chunks = nil
	return err
}

func buildArgs(backend Backend, device string, sampleRate, channels int) ([]string, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	switch backend {
	case BackendPulse, BackendALSA, BackendDShow:
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", backend)
	}

	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", ffmpeg.LogLevel(),
		"-f", string(backend),
		"-i", backend.inputDevice(device),
		"-vn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	}, nil
}

func decodeF32LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}
	return samples
}
