package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureFailure is a display or frame-grab backend error. Fatal to the session.
	ErrCaptureFailure = errors.New("capture failure")
	// ErrAudioUnavailable is an audio device open or read error. The session
	// continues video-only.
	ErrAudioUnavailable = errors.New("audio unavailable")
	// ErrEmptySession is returned when no frame was captured before stop.
	ErrEmptySession = errors.New("empty session: no frames captured")
	// ErrMuxFailure is an encoding or container-writing error.
	ErrMuxFailure = errors.New("mux failure")

	// ErrGrabTimeout is returned by a FrameGrabber or AudioReader when no
	// data arrived before its timeout. The producer loop polls the stop
	// signal again and retries.
	ErrGrabTimeout = errors.New("timed out waiting for capture data")

	errBufferLimit = errors.New("buffer limit reached")
)

// SourceError is the tagged result a producer reports to the coordinator.
type SourceError struct {
	Source string // "video" or "audio"
	Kind   error  // one of the Err* kinds above
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s source: %v", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s source: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
