package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// Stop reasons recorded on the session.
const (
	ReasonContextDone  = "context cancelled"
	ReasonMaxDuration  = "max duration reached"
	ReasonBufferLimit  = "buffer limit reached"
	ReasonFrameFailure = "frame source failed"
	ReasonFrameExited  = "frame source exited"
)

type CoordinatorOptions struct {
	// MaxDuration triggers the stop signal after this long. Zero disables it.
	MaxDuration time.Duration
	Clock       func() time.Time
}

// Coordinator runs one recording session: it starts both producers,
// waits for the stop signal, joins them and freezes their output into a
// Session.
type Coordinator struct {
	frames *FrameSource
	audio  *AudioSource // nil when audio recording is disabled
	opts   CoordinatorOptions
}

func NewCoordinator(frames *FrameSource, audio *AudioSource, opts CoordinatorOptions) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{frames: frames, audio: audio, opts: opts}
}

// Run records until stop is triggered, ctx is cancelled, the max duration
// elapses or the frame source exits on its own.
//
// A CaptureFailure from the frame source is returned together with the
// partial session. An audio failure degrades the session to video-only and
// is recorded in Session.Diagnostics.
func (c *Coordinator) Run(ctx context.Context, stop *StopSignal) (*Session, error) {
	start := c.opts.Clock()
	session := &Session{
		ID:           uuid.NewString(),
		StartedAt:    start,
		FrameRate:    c.frames.opts.FPS,
		Region:       c.frames.opts.Region,
		AudioEnabled: c.audio != nil,
	}
	if c.audio != nil {
		session.SampleRate = c.audio.opts.SampleRate
		session.Channels = c.audio.opts.Channels
	}

	frameErr, audioErr := c.startSources(start, stop)
	if frameErr != nil {
		stop.Trigger(ReasonFrameFailure)
		if audioErr == nil && c.audio != nil {
			_, _ = c.audio.Stop()
		}
		session.StopReason = stop.Reason()
		session.freeze()
		return session, frameErr
	}
	audio := c.audio
	if audioErr != nil {
		slog.Warn("Audio unavailable, recording video only", "error", audioErr)
		session.AudioEnabled = false
		session.Diagnostics = append(session.Diagnostics, audioErr)
		audio = nil
	}

	slog.Info("Recording started", "session", session.ID, "region", session.Region.String(),
		"fps", session.FrameRate, "audio", session.AudioEnabled)

	c.waitForStop(ctx, stop, audio)
	session.StopReason = stop.Reason()
	slog.Info("Stopping recording", "reason", session.StopReason)

	var (
		frames []Frame
		blocks []AudioBlock
		aErr   error
		wg     conc.WaitGroup
	)
	wg.Go(func() { frames, frameErr = c.frames.Stop() })
	if audio != nil {
		wg.Go(func() { blocks, aErr = audio.Stop() })
	}
	wg.Wait()

	session.Frames = frames
	if errors.Is(frameErr, errBufferLimit) {
		frameErr = nil
	}
	if frameErr != nil {
		session.freeze()
		return session, frameErr
	}

	if audio != nil {
		if aErr != nil && !errors.Is(aErr, errBufferLimit) {
			slog.Warn("Audio capture failed, output will be video only", "error", aErr, "discarded_blocks", len(blocks))
			session.AudioEnabled = false
			session.Diagnostics = append(session.Diagnostics, aErr)
		} else {
			session.Audio = blocks
		}
	}

	session.freeze()
	slog.Info("Recording stopped", "frames", len(session.Frames), "audio_blocks", len(session.Audio),
		"video_duration", session.VideoDuration())
	return session, nil
}

// startSources opens both producers concurrently.
func (c *Coordinator) startSources(start time.Time, stop *StopSignal) (frameErr, audioErr error) {
	var wg conc.WaitGroup
	wg.Go(func() { frameErr = c.frames.Start(start, stop) })
	if c.audio != nil {
		wg.Go(func() { audioErr = c.audio.Start(start, stop) })
	}
	wg.Wait()
	return frameErr, audioErr
}

func (c *Coordinator) waitForStop(ctx context.Context, stop *StopSignal, audio *AudioSource) {
	var deadline <-chan time.Time
	if c.opts.MaxDuration > 0 {
		timer := time.NewTimer(c.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	var audioDone <-chan struct{}
	if audio != nil {
		audioDone = audio.Done()
	}

	for {
		select {
		case <-stop.Done():
			return
		case <-ctx.Done():
			stop.Trigger(ReasonContextDone)
			return
		case <-deadline:
			stop.Trigger(ReasonMaxDuration)
			return
		case <-c.frames.Done():
			// The frame loop only exits on its own after a failure or when its
			// buffer limit is reached; either way the session ends here.
			_, err := c.frames.Stop()
			switch {
			case err == nil:
				stop.Trigger(ReasonFrameExited)
			case errors.Is(err, errBufferLimit):
				stop.Trigger(ReasonBufferLimit)
			default:
				stop.Trigger(ReasonFrameFailure)
			}
			return
		case <-audioDone:
			// A full audio buffer ends the session. A failed read does not;
			// the video keeps recording and the audio is dropped later.
			audioDone = nil
			if _, err := audio.Stop(); errors.Is(err, errBufferLimit) {
				stop.Trigger(ReasonBufferLimit)
				return
			}
		}
	}
}
