package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/screenrec/internal/audio"
	"github.com/audiolibrelab/screenrec/internal/capture"
	"github.com/audiolibrelab/screenrec/internal/config"
	"github.com/audiolibrelab/screenrec/internal/mux"
	"github.com/audiolibrelab/screenrec/internal/play"
	"github.com/audiolibrelab/screenrec/internal/screen"
)

// Service represents the core screenrec service interface
type Service interface {
	// Recording operations
	Record(ctx context.Context, outputPath string) (*RecordResult, error)
	StopRecording(reason string) error
	GetRecordingStatus() (RecordingStatus, *RecordingSession)

	// Playback operations
	Play(path string) error

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	GetRecordingInfo(outputPath string) (*RecordingInfo, error)
	GetLastError() string
}

// RecordingStatus represents the current recording state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusMuxing    RecordingStatus = "MUXING"
	StatusError     RecordingStatus = "ERROR"
)

// ReasonUser is the stop reason for StopRecording without a reason.
const ReasonUser = "user request"

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
	Region     string    `json:"region"`
	FPS        int       `json:"fps"`
	Audio      bool      `json:"audio"`
}

// RecordResult is returned by Record. Output is only set when muxing
// succeeded.
type RecordResult struct {
	OutputPath string
	StopReason string
	Frames     int
	Output     *mux.Result
	// Warnings holds non-fatal diagnostics such as an unavailable audio device
	Warnings []error
}

// RecordingInfo contains path and limit information for a recording
type RecordingInfo struct {
	OutputPath        string `json:"output_path"`
	VideoIntermediate string `json:"video_intermediate"`
	AudioIntermediate string `json:"audio_intermediate,omitempty"`
	BufferLimit       int64  `json:"buffer_limit"`
	BufferLimitAuto   bool   `json:"buffer_limit_auto"`
}

// Option customises a RecorderService, mainly to swap out collaborators.
type Option func(*RecorderService)

func WithFrameGrabber(g capture.FrameGrabber) Option {
	return func(s *RecorderService) { s.grabber = g }
}

func WithAudioReader(r capture.AudioReader) Option {
	return func(s *RecorderService) { s.reader = r }
}

func WithEncoder(e mux.Encoder) Option {
	return func(s *RecorderService) { s.encoder = e }
}

func WithFs(fs afero.Fs) Option {
	return func(s *RecorderService) { s.fs = fs }
}

func WithClock(clock func() time.Time) Option {
	return func(s *RecorderService) { s.clock = clock }
}

func withMemory(available func() (uint64, error)) Option {
	return func(s *RecorderService) { s.memAvailable = available }
}

var _ Service = (*RecorderService)(nil)

// RecorderService is the main service implementation
type RecorderService struct {
	cfg        *config.Config
	configFile string

	grabber      capture.FrameGrabber
	reader       capture.AudioReader
	encoder      mux.Encoder
	fs           afero.Fs
	clock        func() time.Time
	memAvailable func() (uint64, error)

	mu      sync.Mutex
	status  RecordingStatus
	session *RecordingSession
	stop    *capture.StopSignal

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new service instance
func New(cfg *config.Config, configFile string, opts ...Option) *RecorderService {
	s := &RecorderService{
		cfg:          cfg,
		configFile:   configFile,
		fs:           afero.NewOsFs(),
		clock:        time.Now,
		memAvailable: availableMemory,
		status:       StatusStandby,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoder == nil {
		s.encoder = mux.NewFFmpegEncoder(cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath)
	}
	return s
}

// Record captures until StopRecording is called, ctx is cancelled or a
// configured limit is reached, then muxes the session into outputPath.
// An empty outputPath uses the configured output.path.
func (s *RecorderService) Record(ctx context.Context, outputPath string) (*RecordResult, error) {
	cfg := s.cfg
	if outputPath == "" {
		outputPath = cfg.OutputPath(s.clock())
	}

	stop := capture.NewStopSignal()
	if err := s.begin(stop, outputPath); err != nil {
		return nil, err
	}
	s.clearLastError()

	limit, _ := resolveBufferLimit(cfg.Limits.MaxBufferBytes, cfg.Audio.RecordAudio, s.memAvailable)

	frames := capture.NewFrameSource(s.frameGrabber(), capture.FrameSourceOptions{
		Region:         regionOf(cfg.Capture.Region),
		FPS:            cfg.Capture.FPS,
		MaxBufferBytes: limit,
		Clock:          s.clock,
	})

	var warnings []error
	var audioSrc *capture.AudioSource
	if cfg.Audio.RecordAudio {
		reader, err := s.audioReader()
		if err != nil {
			slog.Warn("Audio disabled", "error", err)
			warnings = append(warnings, &capture.SourceError{Source: "audio", Kind: capture.ErrAudioUnavailable, Err: err})
		} else {
			audioSrc = capture.NewAudioSource(reader, capture.AudioSourceOptions{
				Device:         cfg.Audio.Device,
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Gain:           cfg.Audio.Gain,
				BlockDuration:  cfg.Audio.BlockDuration,
				MaxBufferBytes: limit,
				Clock:          s.clock,
			})
		}
	}

	coord := capture.NewCoordinator(frames, audioSrc, capture.CoordinatorOptions{
		MaxDuration: cfg.Limits.MaxDuration,
		Clock:       s.clock,
	})

	session, err := coord.Run(ctx, stop)
	result := &RecordResult{OutputPath: outputPath, Warnings: warnings}
	if session != nil {
		result.StopReason = session.StopReason
		result.Frames = len(session.Frames)
		result.Warnings = append(result.Warnings, session.Diagnostics...)
	}
	if err != nil {
		s.fail(fmt.Sprintf("Recording failed: %v", err))
		return result, fmt.Errorf("recording failed: %w", err)
	}

	s.setStatus(StatusMuxing)
	muxer := mux.New(s.fs, s.encoder)
	// Muxing must finish even after the signal that stopped recording.
	out, err := muxer.Mux(context.WithoutCancel(ctx), session, outputPath, mux.Options{
		Codec:             cfg.Output.Codec,
		Bitrate:           cfg.Output.Bitrate,
		AudioCodec:        cfg.Output.AudioCodec,
		AudioBitrate:      cfg.Output.AudioBitrate,
		KeepIntermediates: cfg.Output.KeepIntermediates,
		TempDir:           cfg.Output.TempDir,
	})
	session.Release()
	if err != nil {
		s.fail(fmt.Sprintf("Mux failed: %v", err))
		if errors.Is(err, capture.ErrEmptySession) {
			return result, err
		}
		return result, fmt.Errorf("mux failed: %w", err)
	}

	result.Output = out
	result.Warnings = append(result.Warnings, out.Diagnostics...)
	s.finish()
	return result, nil
}

// StopRecording triggers the stop signal of the running session.
func (s *RecorderService) StopRecording(reason string) error {
	if reason == "" {
		reason = ReasonUser
	}
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()

	if stop == nil {
		return fmt.Errorf("no recording in progress")
	}
	if stop.Trigger(reason) {
		slog.Debug("Stop requested", "reason", reason)
	}
	return nil
}

// GetRecordingStatus returns the current recording status and session info
func (s *RecorderService) GetRecordingStatus() (RecordingStatus, *RecordingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return s.status, nil
	}
	session := *s.session
	return s.status, &session
}

// Play plays a finished recording
func (s *RecorderService) Play(path string) error {
	if path == "" {
		path = s.cfg.OutputPath(s.clock())
	}
	return play.New().Play(path)
}

// LoadProfile loads a new configuration profile
func (s *RecorderService) LoadProfile(profile string) error {
	s.mu.Lock()
	busy := s.status == StatusRecording || s.status == StatusMuxing
	s.mu.Unlock()
	if busy {
		return fmt.Errorf("cannot change profile while recording")
	}

	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// GetRecordingInfo returns the files a recording to outputPath would use.
// Intermediate names carry a placeholder for the per-session id.
func (s *RecorderService) GetRecordingInfo(outputPath string) (*RecordingInfo, error) {
	if outputPath == "" {
		outputPath = s.cfg.OutputPath(s.clock())
	}
	dir := s.cfg.Output.TempDir
	if dir == "" {
		dir = filepath.Dir(outputPath)
	}
	video, audioPath := mux.IntermediatePaths(dir, "<session-id>")

	limit, auto := resolveBufferLimit(s.cfg.Limits.MaxBufferBytes, s.cfg.Audio.RecordAudio, s.memAvailable)
	info := &RecordingInfo{
		OutputPath:        outputPath,
		VideoIntermediate: video,
		BufferLimit:       limit,
		BufferLimitAuto:   auto,
	}
	if s.cfg.Audio.RecordAudio {
		info.AudioIntermediate = audioPath
	}
	return info, nil
}

// GetLastError returns the last error message
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *RecorderService) begin(stop *capture.StopSignal, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRecording || s.status == StatusMuxing {
		return fmt.Errorf("recording already in progress")
	}
	s.status = StatusRecording
	s.stop = stop
	s.session = &RecordingSession{
		StartTime:  s.clock(),
		OutputFile: outputPath,
		Region:     s.cfg.Capture.Region.String(),
		FPS:        s.cfg.Capture.FPS,
		Audio:      s.cfg.Audio.RecordAudio,
	}
	return nil
}

func (s *RecorderService) setStatus(status RecordingStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *RecorderService) finish() {
	s.mu.Lock()
	s.status = StatusStandby
	s.stop = nil
	s.session = nil
	s.mu.Unlock()
}

func (s *RecorderService) fail(msg string) {
	slog.Error(msg)
	s.setLastError(msg)
	s.mu.Lock()
	s.status = StatusError
	s.stop = nil
	s.mu.Unlock()
}

func (s *RecorderService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *RecorderService) clearLastError() {
	s.setLastError("")
}

func (s *RecorderService) frameGrabber() capture.FrameGrabber {
	if s.grabber != nil {
		return s.grabber
	}
	return screen.NewFFmpegGrabber(screen.Options{
		FFmpegPath:  s.cfg.FFmpeg.Path,
		Backend:     screen.Backend(s.cfg.Capture.Backend),
		Display:     s.cfg.Capture.Display,
		GrabTimeout: s.cfg.Capture.GrabTimeout,
		DrawCursor:  s.cfg.Capture.DrawCursor,
	})
}

func (s *RecorderService) audioReader() (capture.AudioReader, error) {
	if s.reader != nil {
		return s.reader, nil
	}
	backend, err := audio.ParseBackend(s.cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}
	if err := audio.ValidateSource(backend, s.cfg.Audio.Device); err != nil {
		// The reader reports the failure again on open and the session
		// continues without audio.
		slog.Warn("Audio source check failed", "device", s.cfg.Audio.Device, "error", err)
	}
	return audio.NewFFmpegReader(audio.ReaderOptions{
		FFmpegPath:  s.cfg.FFmpeg.Path,
		Backend:     backend,
		ReadTimeout: s.cfg.Capture.GrabTimeout,
	}), nil
}

func regionOf(r config.RegionConfig) capture.Region {
	return capture.Region{Top: r.Top, Left: r.Left, Width: r.Width, Height: r.Height}
}
