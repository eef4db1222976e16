package capture

import (
	"sync"
	"sync/atomic"
)

// StopSignal is a one-shot latch shared by the producers, the coordinator
// and whatever listens for the user's stop request. It transitions from
// unset to set exactly once and is never reset.
type StopSignal struct {
	set    atomic.Bool
	once   sync.Once
	done   chan struct{}
	reason atomic.Value // string
}

func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Trigger sets the latch. Only the first call records its reason; it
// reports whether this call performed the transition.
func (s *StopSignal) Trigger(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.reason.Store(reason)
		s.set.Store(true)
		close(s.done)
		fired = true
	})
	return fired
}

// IsSet is safe to poll from any goroutine.
func (s *StopSignal) IsSet() bool {
	return s.set.Load()
}

// Done is closed when the latch is set.
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}

// Reason returns the reason passed to the first Trigger, or "".
func (s *StopSignal) Reason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}
	return ""
}
