package blinkwise

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Supervisor runs Step on every tick of Interval until Stop is called
// or Step fails. Done runs once on the loop goroutine as it exits,
// with the Step error or nil for a requested stop.
type Supervisor struct {
	Clock    quartz.Clock
	Interval time.Duration
	Step     func(ctx context.Context) error
	Done     func(err error)
	StopChan chan struct{}
	WG       sync.WaitGroup

	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewSupervisor(clock quartz.Clock, interval time.Duration, step func(context.Context) error, done func(error)) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{
		Clock:    clock,
		Interval: interval,
		Step:     step,
		Done:     done,
	}
}

// Start the Supervisor. The ticker exists before Start returns.
func (s *Supervisor) Start() {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.StopChan = make(chan struct{})
	ticker := s.Clock.NewTicker(s.Interval, "supervisor")

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Step(ctx); err != nil {
					if ctx.Err() != nil {
						// stopping, not failing
						s.finish(nil)
					} else {
						s.finish(err)
					}
					return
				}
			case <-s.StopChan:
				s.finish(nil)
				return
			}
		}
	}()
}

func (s *Supervisor) finish(err error) {
	if s.Done != nil {
		s.Done(err)
	}
}

// Stop the Supervisor and wait for the loop to exit.
// Safe to call more than once, and after the loop already failed.
func (s *Supervisor) Stop() {
	if s.StopChan == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.StopChan)
		s.cancel()
	})
	s.WG.Wait()
}
