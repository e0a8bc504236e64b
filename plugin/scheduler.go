package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the manifest schedules of loaded plugins. Each schedule
// calls a global Lua function of the plugin on a fixed interval until the
// plugin is unloaded.
type Scheduler struct {
	ctx context.Context
	log *zap.SugaredLogger

	mu    sync.Mutex
	tasks map[string]map[string]context.CancelFunc // class -> function -> cancel
}

// NewScheduler creates a scheduler whose tasks end with ctx.
func NewScheduler(ctx context.Context, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		ctx:   ctx,
		log:   log,
		tasks: make(map[string]map[string]context.CancelFunc),
	}
}

// Schedule starts sched for class. A schedule with the same function name
// replaces the running one.
func (s *Scheduler) Schedule(class string, sched Schedule, sb *Sandbox) {
	if sched.Interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.tasks[class]
	if byName == nil {
		byName = make(map[string]context.CancelFunc)
		s.tasks[class] = byName
	}
	if cancel, ok := byName[sched.Name]; ok {
		cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	byName[sched.Name] = cancel
	go s.run(ctx, class, sched, sb)
}

// Unschedule stops every task of class and returns how many were running.
func (s *Scheduler) Unschedule(class string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.tasks[class]
	for _, cancel := range byName {
		cancel()
	}
	delete(s.tasks, class)
	return len(byName)
}

// Len returns the number of running tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, byName := range s.tasks {
		n += len(byName)
	}
	return n
}

// StopAll stops every task.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, byName := range s.tasks {
		for _, cancel := range byName {
			cancel()
		}
	}
	s.tasks = make(map[string]map[string]context.CancelFunc)
}

func (s *Scheduler) run(ctx context.Context, class string, sched Schedule, sb *Sandbox) {
	ticker := time.NewTicker(time.Duration(sched.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, class, sched.Name, sb)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, class, name string, sb *Sandbox) {
	defer func() {
		if r := recover(); r != nil {
			scheduledRunsTotal.WithLabelValues(resultError).Inc()
			s.log.Errorf("Scheduled task %s of %s panicked: %v", name, class, r)
		}
	}()

	err := sb.CallGlobal(ctx, name)
	switch {
	case err == nil:
		scheduledRunsTotal.WithLabelValues(resultOK).Inc()
	case errors.Is(err, ErrSandboxClosed), ctx.Err() != nil:
		// unloaded between ticks
	default:
		scheduledRunsTotal.WithLabelValues(resultError).Inc()
		s.log.Warnf("Scheduled task %s of %s failed: %v", name, class, err)
	}
}
