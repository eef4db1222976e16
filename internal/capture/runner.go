package capture

import (
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
)

// runner owns one producer goroutine. The loop it runs is the only writer
// of the producer's sequence, so the sequence needs no lock.
type runner struct {
	halt *StopSignal
	wg   conc.WaitGroup
	done chan struct{}
	err  error
}

func (r *runner) start(loop func() error) {
	r.halt = NewStopSignal()
	r.done = make(chan struct{})
	r.wg.Go(func() {
		defer close(r.done)
		r.err = loop()
	})
}

// stopped reports whether the producer should leave its loop.
func (r *runner) stopped(shared *StopSignal) bool {
	return shared.IsSet() || r.halt.IsSet()
}

// join asks the loop to exit after its in-flight read and waits for it.
// A panic in the loop is reported as kind.
func (r *runner) join(source string, kind error) error {
	r.halt.Trigger(source + " source stopped")
	if rec := r.wg.WaitAndRecover(); rec != nil {
		return &SourceError{Source: source, Kind: kind, Err: fmt.Errorf("panic: %v", rec.Value)}
	}
	return r.err
}

// nextTimestamp keeps a producer's timestamps strictly increasing even when
// the clock is coarse or steps backwards.
func nextTimestamp(ts time.Duration, prev time.Duration, first bool) time.Duration {
	if ts < 0 {
		ts = 0
	}
	if !first && ts <= prev {
		ts = prev + time.Nanosecond
	}
	return ts
}
