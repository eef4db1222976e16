package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/screenrec/internal/capture"
)

// Options controls a single Mux call.
type Options struct {
	// Codec is h264 or h265.
	Codec        string
	Bitrate      string
	AudioCodec   string
	AudioBitrate string
	// KeepIntermediates retains the intermediate files after a successful mux.
	KeepIntermediates bool
	// TempDir holds intermediates; defaults to the output directory.
	TempDir string
}

// Result describes a finished output file.
type Result struct {
	OutputPath    string
	Frames        int
	VideoDuration time.Duration
	AudioDuration time.Duration
	HasAudio      bool
	Size          int64
	// Intermediates lists intermediate files still on disk.
	Intermediates []string
	// Diagnostics holds non-fatal problems found while muxing.
	Diagnostics []error
	Probe         *ProbeResult
}

// MuxError is returned for any encoding or container failure. Intermediates
// written before the failure are left in place.
type MuxError struct {
	Stage         string
	Intermediates []string
	Err           error
}

func (e *MuxError) Error() string {
	if len(e.Intermediates) == 0 {
		return fmt.Sprintf("mux failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("mux failed at %s: %v (intermediates kept: %s)", e.Stage, e.Err, strings.Join(e.Intermediates, ", "))
}

func (e *MuxError) Unwrap() error { return e.Err }

func (e *MuxError) Is(target error) bool { return target == capture.ErrMuxFailure }

var videoEncoders = map[string]string{
	"h264": "libx264",
	"h265": "libx265",
}

// VideoEncoder maps a codec name to its ffmpeg encoder.
func VideoEncoder(codec string) (string, error) {
	enc, ok := videoEncoders[strings.ToLower(codec)]
	if !ok {
		return "", fmt.Errorf("unsupported codec %q (expected h264 or h265)", codec)
	}
	return enc, nil
}

// IntermediatePaths returns the video and audio intermediate file names for
// a session id.
func IntermediatePaths(dir, sessionID string) (video, audio string) {
	prefix := filepath.Join(dir, ".screenrec-"+sessionID)
	return prefix + "-video.mkv", prefix + "-audio.wav"
}

// stagingPath is where the container is written before it replaces
// outputPath. It keeps the extension so ffmpeg picks the same muxer.
func stagingPath(outputPath, sessionID string) string {
	return filepath.Join(filepath.Dir(outputPath), ".screenrec-"+sessionID+"-mux"+filepath.Ext(outputPath))
}

// Muxer turns a frozen capture session into one container file.
type Muxer struct {
	fs  afero.Fs
	enc Encoder
}

func New(fs afero.Fs, enc Encoder) *Muxer {
	return &Muxer{fs: fs, enc: enc}
}

// Mux encodes the session's frames at the session frame rate, aligns and
// encodes its audio if present, and writes outputPath. A session without
// frames yields capture.ErrEmptySession and touches no files.
func (m *Muxer) Mux(ctx context.Context, s *capture.Session, outputPath string, opts Options) (*Result, error) {
	if s == nil || len(s.Frames) == 0 {
		return nil, capture.ErrEmptySession
	}
	if outputPath == "" {
		return nil, &MuxError{Stage: "prepare", Err: errors.New("no output path")}
	}
	encoder, err := VideoEncoder(opts.Codec)
	if err != nil {
		return nil, &MuxError{Stage: "prepare", Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, &MuxError{Stage: "prepare", Err: err}
	}
	if s.FrameRate <= 0 {
		return nil, &MuxError{Stage: "prepare", Err: fmt.Errorf("invalid frame rate %d", s.FrameRate)}
	}
	if s.HasAudio() && (s.SampleRate <= 0 || s.Channels <= 0) {
		return nil, &MuxError{Stage: "prepare", Err: fmt.Errorf("invalid audio format %d Hz, %d channels", s.SampleRate, s.Channels)}
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = filepath.Dir(outputPath)
	}
	for _, dir := range []string{tempDir, filepath.Dir(outputPath)} {
		if err := m.fs.MkdirAll(dir, 0755); err != nil {
			return nil, &MuxError{Stage: "prepare", Err: fmt.Errorf("failed to create directory %s: %w", dir, err)}
		}
	}

	videoPath, audioPath := IntermediatePaths(tempDir, s.ID)
	staged := stagingPath(outputPath, s.ID)
	var written []string

	// outputPath itself is only replaced by the final rename, so a failed
	// run leaves an existing file there untouched.
	fail := func(stage string, err error) (*Result, error) {
		if rmErr := m.fs.Remove(staged); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("Failed to remove partial output", "file", staged, "error", rmErr)
		}
		slog.Error("Mux failed", "stage", stage, "error", err, "intermediates", written)
		return nil, &MuxError{Stage: stage, Intermediates: written, Err: err}
	}

	slog.Info("Encoding video", "frames", len(s.Frames), "fps", s.FrameRate, "codec", encoder, "bitrate", opts.Bitrate)
	written = append(written, videoPath)
	if err := m.enc.EncodeVideo(ctx, VideoJob{
		Path:    videoPath,
		Width:   s.Region.Width,
		Height:  s.Region.Height,
		FPS:     s.FrameRate,
		Encoder: encoder,
		Bitrate: opts.Bitrate,
		Frames:  s.Frames,
	}); err != nil {
		return fail("encode video", err)
	}

	result := &Result{
		OutputPath:    outputPath,
		Frames:        len(s.Frames),
		VideoDuration: s.VideoDuration(),
	}

	job := MuxJob{
		VideoPath:    videoPath,
		OutputPath:   staged,
		AudioCodec:   opts.AudioCodec,
		AudioBitrate: opts.AudioBitrate,
	}

	if s.HasAudio() {
		samples := alignAudio(s)
		if len(samples) == 0 {
			diag := fmt.Errorf("%w: no audio captured after the first frame", capture.ErrAudioUnavailable)
			slog.Warn("Audio does not overlap the video, output will be video only", "blocks", len(s.Audio))
			result.Diagnostics = append(result.Diagnostics, diag)
		} else {
			written = append(written, audioPath)
			if err := writeWAV(m.fs, audioPath, samples, s.SampleRate, s.Channels); err != nil {
				return fail("write audio", err)
			}
			job.AudioPath = audioPath
			result.HasAudio = true
			result.AudioDuration = time.Duration(len(samples)/s.Channels) * time.Second / time.Duration(s.SampleRate)
			slog.Debug("Audio intermediate written", "file", audioPath, "duration", result.AudioDuration)
		}
	}

	if err := m.enc.Mux(ctx, job); err != nil {
		return fail("mux", err)
	}

	info, err := m.fs.Stat(staged)
	if err != nil {
		return fail("verify", fmt.Errorf("output file not created: %s", staged))
	}
	if info.Size() == 0 {
		return fail("verify", fmt.Errorf("output file is empty: %s", staged))
	}
	if err := m.fs.Rename(staged, outputPath); err != nil {
		return fail("finalize", fmt.Errorf("failed to move output into place: %w", err))
	}
	result.Size = info.Size()

	if probe, err := m.enc.Probe(ctx, outputPath); err != nil {
		slog.Warn("Could not probe output", "file", outputPath, "error", err)
	} else {
		result.Probe = probe
		checkSync(probe, s.FrameInterval())
	}

	if opts.KeepIntermediates {
		result.Intermediates = written
	} else {
		for _, path := range written {
			if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove intermediate", "file", path, "error", err)
				result.Intermediates = append(result.Intermediates, path)
			}
		}
	}

	slog.Info("Recording saved to", "file", outputPath, "duration", result.VideoDuration, "audio", result.HasAudio, "size", result.Size)
	return result, nil
}

// checkSync warns when the audio and video streams of the output start
// more than one frame interval apart.
func checkSync(probe *ProbeResult, interval time.Duration) bool {
	video, audio := probe.Stream("video"), probe.Stream("audio")
	if video == nil || audio == nil {
		return true
	}
	skew := math.Abs(video.StartTime - audio.StartTime)
	if skew > interval.Seconds() {
		slog.Warn("Audio and video start times differ", "video_start", video.StartTime, "audio_start", audio.StartTime, "frame_interval", interval)
		return false
	}
	return true
}
