package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameGrabber is the display capture collaborator.
type FrameGrabber interface {
	// Open prepares capture of region at roughly fps frames per second.
	Open(region Region, fps int) error
	// Grab blocks until the next frame is available and returns its packed
	// BGR24 pixels, or ErrGrabTimeout when none arrived in time.
	Grab() ([]byte, error)
	Close() error
}

type FrameSourceOptions struct {
	Region Region
	FPS    int
	// MaxBufferBytes bounds the in-memory frame sequence. Zero means unbounded.
	MaxBufferBytes int64
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// FrameSource pulls frames from a FrameGrabber on its own goroutine until
// the shared StopSignal is set or Stop is called.
type FrameSource struct {
	grabber FrameGrabber
	opts    FrameSourceOptions

	stop   *StopSignal
	start  time.Time
	frames []Frame
	bytes  int64
	runner runner

	started  bool
	stopOnce sync.Once
	stopErr  error
}

func NewFrameSource(grabber FrameGrabber, opts FrameSourceOptions) *FrameSource {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &FrameSource{grabber: grabber, opts: opts}
}

// Start opens the grabber and launches the capture loop. An open failure is
// returned as a CaptureFailure and no goroutine is started.
func (s *FrameSource) Start(sessionStart time.Time, stop *StopSignal) error {
	if s.started {
		return fmt.Errorf("frame source already started")
	}
	if s.opts.FPS <= 0 {
		return &SourceError{Source: "video", Kind: ErrCaptureFailure, Err: fmt.Errorf("invalid frame rate %d", s.opts.FPS)}
	}
	if err := s.grabber.Open(s.opts.Region, s.opts.FPS); err != nil {
		return &SourceError{Source: "video", Kind: ErrCaptureFailure, Err: err}
	}

	s.stop = stop
	s.start = sessionStart
	s.started = true
	s.runner.start(s.loop)

	slog.Debug("Frame source started", "region", s.opts.Region.String(), "fps", s.opts.FPS)
	return nil
}

// Done is closed once the capture loop has exited.
func (s *FrameSource) Done() <-chan struct{} {
	return s.runner.done
}

// Stop joins the capture loop, closes the grabber and returns every frame
// captured. Frames captured before a failure are returned with the error.
func (s *FrameSource) Stop() ([]Frame, error) {
	if !s.started {
		return nil, nil
	}
	s.stopOnce.Do(func() {
		s.stopErr = s.runner.join("video", ErrCaptureFailure)
		if err := s.grabber.Close(); err != nil {
			slog.Debug("Frame grabber close failed", "error", err)
		}
		slog.Debug("Frame source stopped", "frames", len(s.frames), "bytes", s.bytes)
	})
	return s.frames, s.stopErr
}

func (s *FrameSource) loop() error {
	frameSize := s.opts.Region.FrameSize()
	var prev time.Duration

	for !s.runner.stopped(s.stop) {
		data, err := s.grabber.Grab()
		if errors.Is(err, ErrGrabTimeout) {
			slog.Debug("No frame before grab timeout")
			continue
		}
		if err != nil {
			return &SourceError{Source: "video", Kind: ErrCaptureFailure, Err: err}
		}
		if len(data) != frameSize {
			return &SourceError{Source: "video", Kind: ErrCaptureFailure,
				Err: fmt.Errorf("grabbed %d bytes, expected %d", len(data), frameSize)}
		}

		ts := nextTimestamp(s.opts.Clock().Sub(s.start), prev, len(s.frames) == 0)
		prev = ts
		s.frames = append(s.frames, Frame{
			Seq:         uint64(len(s.frames)),
			Timestamp:   ts,
			Width:       s.opts.Region.Width,
			Height:      s.opts.Region.Height,
			PixelFormat: PixelFormatBGR24,
			Data:        data,
		})
		s.bytes += int64(len(data))

		if s.opts.MaxBufferBytes > 0 && s.bytes >= s.opts.MaxBufferBytes {
			slog.Warn("Frame buffer limit reached", "frames", len(s.frames), "bytes", s.bytes)
			return errBufferLimit
		}
	}
	return nil
}
