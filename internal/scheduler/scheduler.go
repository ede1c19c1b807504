// Package scheduler runs named maintenance tasks on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrUnknownTask   = errors.New("unknown task")
	ErrStarted       = errors.New("scheduler already started")
)

// TaskFunc is one run of a task. The context is cancelled by Stop.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler wraps a cron runner. A run that is still executing when its
// next tick arrives is skipped.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler with no tasks.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		tasks:  make(map[string]*task),
		ctx:    context.Background(),
	}
}

// Add registers fn to run every interval once the scheduler is started.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	t := &task{name: name, interval: interval, fn: fn}
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() { s.run(t) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.tasks[name] = t
	s.order = append(s.order, name)
	return nil
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start begins ticking. Tasks receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Any("tasks", s.Tasks()))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs the named task synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(t)
}

func (s *Scheduler) run(t *task) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	err := t.fn(ctx)
	metrics.TaskRuns.WithLabelValues(t.name).Inc()
	if err != nil {
		s.logger.Warn("scheduled task failed", slog.String("task", t.name), logging.Error(err))
		return err
	}
	s.logger.Debug("scheduled task finished", slog.String("task", t.name), logging.Duration(time.Since(start)))
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
