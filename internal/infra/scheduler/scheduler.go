package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Sweeper is the minimal interface the scheduler needs: one pass that
// tears down chat orchestrators idle longer than maxIdle, returning how
// many were removed.
type Sweeper interface {
	SweepIdle(maxIdle time.Duration) int
}

// Scheduler periodically reaps idle orchestrators so a long-running
// process does not accumulate one state machine per chat ever opened.
type Scheduler struct {
	interval time.Duration
	maxIdle  time.Duration
	sweeper  Sweeper
	clk      clock.Clock
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(interval, maxIdle time.Duration, sweeper Sweeper, clk clock.Clock, log *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		interval: interval,
		maxIdle:  maxIdle,
		sweeper:  sweeper,
		clk:      clk,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := s.clk.Ticker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Dur("max_idle", s.maxIdle).Msg("idle sweep started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweeper.SweepIdle(s.maxIdle); n > 0 {
				s.log.Debug().Int("removed", n).Msg("idle orchestrators reaped")
			}
		}
	}
}

// Stop cancels the loop and waits for it to finish. Idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
}
