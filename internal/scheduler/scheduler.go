package scheduler

import (
	"context"
	"sync"
	"time"

	"trading-agent/pkg/config"

	"go.uber.org/zap"
)

// FetchFunc is invoked once per completed candle interval. It reports
// whether at least one symbol was stored and published.
type FetchFunc func(ctx context.Context, interval string) bool

// Status reports whether the scheduler runs and which intervals it serves.
type Status struct {
	Running   bool     `json:"running"`
	Intervals []string `json:"intervals"`
}

// Scheduler fires the fetch callback exactly once per candle close per
// interval. Each interval runs its own loop so one interval's failures
// never stall another's.
type Scheduler struct {
	intervals []string
	fetch     FetchFunc
	log       *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped scheduler for the given intervals.
func New(intervals []string, fetch FetchFunc, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{intervals: intervals, fetch: fetch, log: log}
}

// Start launches one loop per configured interval. Calling Start on a
// running scheduler is a no-op; Start after Stop begins a fresh cycle.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, interval := range s.intervals {
		d, err := config.ParseInterval(interval)
		if err != nil {
			s.log.Error("skipping unparseable interval", zap.String("interval", interval), zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.runInterval(ctx, interval, d)
	}
	s.log.Info("scheduler started", zap.Strings("intervals", s.intervals))
}

// Stop cancels all interval loops and blocks until they have unwound.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Status reports the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running}
	if s.running {
		st.Intervals = append(st.Intervals, s.intervals...)
	}
	return st
}

func (s *Scheduler) runInterval(ctx context.Context, interval string, d time.Duration) {
	defer s.wg.Done()

	for {
		// Recompute from the wall clock every cycle so sleep error and
		// callback time never accumulate into drift.
		now := time.Now()
		next := nextClose(now, d)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.invoke(ctx, interval)
	}
}

// invoke runs one fetch cycle, containing panics and failures to this
// interval's loop.
func (s *Scheduler) invoke(ctx context.Context, interval string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fetch callback panicked",
				zap.String("interval", interval), zap.Any("panic", r))
		}
	}()

	if ok := s.fetch(ctx, interval); !ok {
		s.log.Warn("fetch cycle stored nothing", zap.String("interval", interval))
	}
}

// nextClose returns the first interval boundary strictly after now.
func nextClose(now time.Time, d time.Duration) time.Time {
	return now.Truncate(d).Add(d)
}
