// Package background runs the periodic maintenance jobs of the server:
// scheduler resync across instances and reaping of finished analysis sessions.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ozoneai/ozone/internal/logger"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is one unit of periodic work. ctx is cancelled when the runner stops.
type Job func(ctx context.Context) error

// Runner schedules named jobs on cron specs. A job never overlaps with itself.
//
// Thread-safety: All methods are thread-safe.
type Runner struct {
	cron   *cron.Cron
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]Job
}

func NewRunner(logger *logger.Logger) *Runner {
	log := logger.WithComponent("jobs")
	adapter := cronLogger{log}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// Add registers job under name on spec, e.g. "@every 1m" or "*/5 * * * *".
func (r *Runner) Add(name, spec string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := r.cron.AddFunc(spec, func() { _ = r.run(name, job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, name, err)
	}
	r.jobs[name] = job

	r.logger.Info("job registered", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (r *Runner) RunNow(name string) error {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(name, job)
}

func (r *Runner) run(name string, job Job) error {
	start := time.Now()
	log := r.logger.With(slog.String("job", name))

	err := job(r.ctx)
	if err != nil {
		log.Error("job failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return err
	}

	log.Debug("job finished", slog.Duration("duration", time.Since(start)))
	return nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("job runner started", slog.Int("jobs", len(r.cron.Entries())))
}

// Stop stops scheduling, cancels running jobs and waits for them until ctx ends.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()

	select {
	case <-done.Done():
		r.logger.Info("job runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for jobs: %w", ctx.Err())
	}
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
