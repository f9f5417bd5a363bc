// Package routine runs named actions on a fixed interval. The next run is
// scheduled after the previous one completes, so runs of one routine never
// overlap.
package routine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxInterval is the longest accepted routine interval.
const MaxInterval = 24 * time.Hour

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Action is the work a routine performs on each run.
type Action func(ctx context.Context) error

type routine struct {
	name     string
	interval time.Duration
	action   Action
	nudge    chan struct{}
}

// Scheduler owns a set of routines and their goroutines.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	routines map[string]*routine
	stopOnce sync.Once
}

// New creates a scheduler whose routines also stop when ctx ends.
func New(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		routines: make(map[string]*routine),
	}
}

// Schedule starts a routine. With immediate set it runs right away,
// otherwise after the first interval.
func (s *Scheduler) Schedule(name string, interval time.Duration, immediate bool, action Action) error {
	if interval <= 0 || interval > MaxInterval {
		return fmt.Errorf("routine %q: interval %s must be in (0, %s]", name, interval, MaxInterval)
	}
	if action == nil {
		return fmt.Errorf("routine %q: no action", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if _, exists := s.routines[name]; exists {
		return fmt.Errorf("routine %q already scheduled", name)
	}

	r := &routine{
		name:     name,
		interval: interval,
		action:   action,
		nudge:    make(chan struct{}, 1),
	}
	s.routines[name] = r

	s.wg.Add(1)
	go s.run(r, immediate)

	log.Debug().Str("routine", name).Dur("interval", interval).Bool("immediate", immediate).Msg("Routine scheduled")
	return nil
}

// Trigger cuts the named routine's current wait short. Triggers arriving
// while the routine runs coalesce into one extra run. It reports whether the
// routine exists.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	r, ok := s.routines[name]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case r.nudge <- struct{}{}:
	default:
	}
	return true
}

// Names returns the scheduled routine names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.routines))
	for name := range s.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop signals every routine to stop and waits for running actions to
// return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Scheduler) run(r *routine, immediate bool) {
	defer s.wg.Done()

	wait := r.interval
	if immediate {
		wait = 0
	}

	for {
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			log.Debug().Str("routine", r.name).Msg("Routine stopped")
			return
		case <-r.nudge:
			timer.Stop()
			log.Debug().Str("routine", r.name).Msg("Routine triggered early")
		case <-timer.C:
		}

		if s.ctx.Err() != nil {
			return
		}
		s.execute(r)
		wait = r.interval
	}
}

func (s *Scheduler) execute(r *routine) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("routine", r.name).Msg("Routine panicked")
		}
	}()

	if err := r.action(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("routine", r.name).Dur("took", time.Since(start)).Msg("Routine failed")
		return
	}
	log.Trace().Str("routine", r.name).Dur("took", time.Since(start)).Msg("Routine completed")
}
