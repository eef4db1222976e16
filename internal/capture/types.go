package capture

import (
	"fmt"
	"time"
)

const (
	// PixelFormatBGR24 is the packed, alpha-free layout every Frame carries.
	PixelFormatBGR24 = "bgr24"
)

// Region is a rectangular area of a monitor, in pixels.
type Region struct {
	Top    int
	Left   int
	Width  int
	Height int
}

// FrameSize returns the byte length of one BGR24 frame covering the region.
func (r Region) FrameSize() int {
	return r.Width * r.Height * 3
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// Frame is a single captured screen image.
type Frame struct {
	// Seq is the zero-based capture index within the session
	Seq uint64
	// Timestamp is the capture time relative to the session start
	Timestamp time.Duration
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// PixelFormat is always PixelFormatBGR24
	PixelFormat string
	// Data holds Width*Height*3 bytes of packed BGR pixels
	Data []byte
}

// AudioBlock is a fixed-duration block of interleaved float32 PCM samples
// with gain already applied.
type AudioBlock struct {
	Seq        uint64
	Timestamp  time.Duration
	SampleRate int
	Channels   int
	Gain       float64
	Samples    []float32
}

// FrameCount returns the number of sample frames (samples per channel).
func (b AudioBlock) FrameCount() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Session is the frozen result of one recording.
//
// Frames and Audio are each written by a single producer while recording and
// are read-only once the coordinator returns the session.
type Session struct {
	ID           string
	StartedAt    time.Time
	FrameRate    int
	SampleRate   int
	Channels     int
	Region       Region
	AudioEnabled bool
	StopReason   string

	Frames []Frame
	Audio  []AudioBlock

	// Diagnostics holds non-fatal problems, such as ErrAudioUnavailable.
	Diagnostics []error

	frozen bool
}

// HasAudio reports whether the session carries an audio stream to mux.
func (s *Session) HasAudio() bool {
	return s.AudioEnabled && len(s.Audio) > 0
}

// Frozen reports whether the coordinator has handed the session off.
func (s *Session) Frozen() bool {
	return s.frozen
}

// FrameInterval is the nominal time between frames at the session frame rate.
func (s *Session) FrameInterval() time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(s.FrameRate)
}

// VideoDuration is the length of the encoded video stream, which plays the
// frames back at the target frame rate.
func (s *Session) VideoDuration() time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Frames)) * time.Second / time.Duration(s.FrameRate)
}

// Validate checks the ordering invariants: strictly increasing timestamps
// in both sequences, and consistent frame geometry.
func (s *Session) Validate() error {
	for i := range s.Frames {
		f := &s.Frames[i]
		if f.Width != s.Region.Width || f.Height != s.Region.Height {
			return fmt.Errorf("frame %d: size %dx%d does not match region %s", i, f.Width, f.Height, s.Region)
		}
		if len(f.Data) != s.Region.FrameSize() {
			return fmt.Errorf("frame %d: %d bytes, expected %d", i, len(f.Data), s.Region.FrameSize())
		}
		if i > 0 && f.Timestamp <= s.Frames[i-1].Timestamp {
			return fmt.Errorf("frame %d: timestamp %s not after %s", i, f.Timestamp, s.Frames[i-1].Timestamp)
		}
	}
	for i := range s.Audio {
		if i > 0 && s.Audio[i].Timestamp <= s.Audio[i-1].Timestamp {
			return fmt.Errorf("audio block %d: timestamp %s not after %s", i, s.Audio[i].Timestamp, s.Audio[i-1].Timestamp)
		}
	}
	return nil
}

// Release drops the captured buffers once the session has been muxed.
func (s *Session) Release() {
	s.Frames = nil
	s.Audio = nil
}

func (s *Session) freeze() {
	s.frozen = true
}
