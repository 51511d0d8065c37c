// Package scheduler persists time-triggered outbound messages and fires them
// through a delivery connector when they are due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ozoneai/ozone/internal/delivery"
	"github.com/ozoneai/ozone/internal/events"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/metrics"
)

// DefaultEmailSubject is used for every scheduled email.
const DefaultEmailSubject = "Scheduled message"

var (
	ErrInvalidTask        = errors.New("invalid task")
	ErrMissingDestination = fmt.Errorf("%w: no destination given and none configured for the connector", ErrInvalidTask)
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadySent    = errors.New("task already sent")
	ErrSchedulerClosed    = errors.New("scheduler is shut down")
	ErrTaskBusy           = errors.New("task delivery in progress")
	ErrTaskNotPending     = errors.New("task no longer pending")
	ErrDeliveryUnrecorded = errors.New("delivery attempted but not recorded")
)

// Deliverer sends one message through a connector.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

// Destinations resolves the default destination an owner configured for a connector.
type Destinations interface {
	DefaultDestination(ctx context.Context, ownerID string, connector delivery.Connector) (string, error)
}

// Config holds the scheduler settings and optional collaborators. Nil collaborators
// fall back to the system clock, a no-op publisher and no metrics.
type Config struct {
	Location     *time.Location
	Mode         Mode
	Retention    time.Duration
	EmailSubject string

	Clock        Clock
	Destinations Destinations
	Publisher    events.Publisher
	Metrics      *metrics.Metrics
}

// Scheduler arms one timer per pending task and delivers it when due.
type Scheduler struct {
	cfg       Config
	store     TaskStore
	deliverer Deliverer
	clock     Clock
	timers    *TimerSet
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger

	// storeMu serializes read-modify-write cycles on stores without Updater.
	storeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	running  map[string]struct{}
	inflight sync.WaitGroup

	// unrecorded holds attempts that reached the connector but failed to persist.
	// Their tasks are not re-armed until the attempt is written.
	unrecorded map[string]attempt

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(cfg Config, store TaskStore, deliverer Deliverer, logger *logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeTracked
	}
	if cfg.EmailSubject == "" {
		cfg.EmailSubject = DefaultEmailSubject
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:        cfg,
		store:      store,
		deliverer:  deliverer,
		clock:      cfg.Clock,
		timers:     NewTimerSet(cfg.Clock),
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logger.WithComponent("scheduler"),
		running:    make(map[string]struct{}),
		unrecorded: make(map[string]attempt),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Create validates req, persists the new task and arms its timer.
func (s *Scheduler) Create(ctx context.Context, ownerID string, req CreateTaskRequest) (*ScheduledTask, error) {
	log := s.logger.WithContext(ctx)

	if s.isClosed() {
		return nil, ErrSchedulerClosed
	}

	connector, ok := delivery.ParseConnector(req.Connector)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported connector %q (must be 'whatsapp' or 'email')", ErrInvalidTask, req.Connector)
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidTask)
	}

	scheduledAt, err := ParseLocalDateTime(req.LocalDateTime, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	to := strings.TrimSpace(req.To)
	if to == "" && s.cfg.Destinations != nil {
		to, err = s.cfg.Destinations.DefaultDestination(ctx, ownerID, connector)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default destination: %w", err)
		}
	}
	if to == "" {
		return nil, ErrMissingDestination
	}

	task := ScheduledTask{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Connector:   connector,
		To:          to,
		Message:     message,
		ScheduledAt: scheduledAt,
		CreatedAt:   s.clock.Now().UTC(),
		Status:      StatusPending,
	}

	err = s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		log.Error("failed to persist task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	log.Info("task scheduled",
		slog.String("task_id", task.ID),
		slog.String("connector", string(connector)),
		slog.Time("scheduled_at", scheduledAt))

	s.metrics.TaskCreated(string(connector))
	s.publish(ctx, events.SubjectTaskCreated, task, "")

	s.Arm(task)
	return &task, nil
}

// Arm schedules delivery of task. Overdue tasks are delivered right away on their
// own goroutine. Tasks that are not pending are ignored.
func (s *Scheduler) Arm(task ScheduledTask) {
	if !task.Pending() || s.isClosed() {
		return
	}
	if s.isRunning(task.ID) || s.hasUnrecorded(task.ID) {
		return
	}

	delay := task.ScheduledAt.Sub(s.clock.Now())
	if delay <= 0 {
		s.timers.Disarm(task.ID)
		s.logger.Info("task overdue, delivering now",
			slog.String("task_id", task.ID),
			slog.Duration("overdue_by", -delay))
		go s.fire(task.ID)
	} else {
		s.timers.Arm(task.ID, delay, func() { s.fire(task.ID) })
		s.logger.Debug("timer armed",
			slog.String("task_id", task.ID),
			slog.Duration("delay", delay))
	}

	s.metrics.SetTimersArmed(s.timers.Len())
}

// fire delivers the stored version of a due task unless it changed meanwhile.
func (s *Scheduler) fire(id string) {
	if !s.begin(id) {
		return
	}
	defer s.end(id)

	ctx := logger.WithTaskID(s.baseCtx, id)

	task, err := s.Get(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).Warn("due task not loadable, skipping", slog.String("error", err.Error()))
		return
	}
	if !task.Pending() {
		s.logger.WithContext(ctx).Debug("due task no longer pending", slog.String("status", string(task.Status)))
		return
	}

	if _, err := s.Deliver(ctx, *task); err != nil {
		s.logger.WithContext(ctx).Error("scheduled delivery failed", slog.String("error", err.Error()))
	}
}

// SendNow delivers a pending task right away instead of waiting for its timer.
func (s *Scheduler) SendNow(ctx context.Context, id string) (*ScheduledTask, error) {
	if s.isClosed() {
		return nil, ErrSchedulerClosed
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Sent || s.hasUnrecorded(id) {
		return nil, ErrTaskAlreadySent
	}
	if !task.Pending() {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidTask, task.Status)
	}

	if !s.begin(id) {
		return nil, ErrTaskBusy
	}
	defer s.end(id)

	s.timers.Disarm(id)
	return s.Deliver(ctx, *task)
}

// begin marks id as being delivered. It reports false when the scheduler is
// closed or another delivery of id is running.
func (s *Scheduler) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	s.inflight.Add(1)
	return true
}

func (s *Scheduler) end(id string) {
	s.release(id)
	s.inflight.Done()
	s.metrics.SetTimersArmed(s.timers.Len())
}

// reserve keeps deliveries of id from starting while a cancel or delete runs.
func (s *Scheduler) reserve(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// attempt is the outcome of one connector call as stored on the task.
type attempt struct {
	status DeliveryStatus
	reason string
	code   int
	at     time.Time
}

func (a attempt) applyTo(t *ScheduledTask) {
	at := a.at
	t.Sent = true
	t.Status = a.status
	t.DeliveryReason = a.reason
	t.DeliveryCode = a.code
	t.AttemptedAt = &at
}

// Deliver sends task through its connector and records the attempt. Connector
// failures are not errors: they are stored on the task. The returned error is
// about claiming or persisting.
func (s *Scheduler) Deliver(ctx context.Context, task ScheduledTask) (*ScheduledTask, error) {
	ctx = logger.WithTaskID(ctx, task.ID)
	if task.OwnerID != "" {
		ctx = logger.WithUserID(ctx, task.OwnerID)
	}
	log := s.logger.WithContext(ctx)

	if claimer, ok := s.store.(Claimer); ok {
		won, err := claimer.Claim(ctx, task.ID, s.clock.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to claim task: %w", err)
		}
		if !won {
			log.Info("task claimed by another instance, skipping")
			return &task, nil
		}
	}

	req := delivery.Request{
		Connector: task.Connector,
		To:        task.To,
		Body:      task.Message,
	}
	if task.Connector == delivery.ConnectorEmail {
		req.Subject = s.cfg.EmailSubject
	}

	start := s.clock.Now()
	res := s.deliverer.Deliver(ctx, req)
	attemptedAt := s.clock.Now().UTC()

	a := attempt{status: StatusSent, reason: res.Reason, code: res.Status, at: attemptedAt}
	if s.cfg.Mode == ModeTracked && !res.OK {
		a.status = StatusFailed
	}

	var updated ScheduledTask
	err := s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		i := findTask(tasks, task.ID)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		if !tasks[i].Pending() {
			return nil, ErrTaskNotPending
		}
		a.applyTo(&tasks[i])
		updated = tasks[i]
		return tasks, nil
	})
	switch {
	case errors.Is(err, ErrTaskNotFound):
		log.Warn("task removed during delivery")
		return nil, err
	case errors.Is(err, ErrTaskNotPending):
		// Another instance changed it; its status wins.
		log.Warn("task changed during delivery, keeping stored status")
		return nil, err
	case err != nil:
		s.mu.Lock()
		s.unrecorded[task.ID] = a
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDeliveryUnrecorded, err)
	}

	outcome := "ok"
	switch {
	case res.Reason != "":
		outcome = res.Reason
	case !res.OK:
		outcome = "rejected"
	}

	if res.OK {
		log.Info("task delivered",
			slog.String("connector", string(task.Connector)),
			slog.Int("status", res.Status))
	} else {
		log.Warn("task delivery did not succeed",
			slog.String("connector", string(task.Connector)),
			slog.String("outcome", outcome),
			slog.Int("status", res.Status),
			slog.String("error", res.Error))
	}

	s.metrics.DeliveryAttempted(string(task.Connector), outcome, attemptedAt.Sub(start).Seconds())
	s.publish(ctx, events.SubjectTaskDelivered, updated, res.Reason)

	return &updated, nil
}

// Restore arms every persisted task that has not been sent yet and returns how
// many were armed.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	tasks, err := s.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks: %w", err)
	}

	armed := 0
	for _, task := range tasks {
		if !task.Pending() {
			continue
		}
		s.Arm(task)
		armed++
	}

	s.logger.WithContext(ctx).Info("scheduled tasks restored",
		slog.Int("total", len(tasks)),
		slog.Int("armed", armed))
	return armed, nil
}

// Resync reconciles timers with the store: pending tasks without a timer get one,
// timers of tasks that are gone or no longer pending are dropped. With a retention
// configured, finished tasks older than it are pruned.
func (s *Scheduler) Resync(ctx context.Context) (armed, pruned int, err error) {
	s.recordPending(ctx)

	tasks, err := s.store.Load(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load tasks: %w", err)
	}

	pending := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if !task.Pending() {
			continue
		}
		pending[task.ID] = true
		if s.timers.Armed(task.ID) || s.isRunning(task.ID) || s.hasUnrecorded(task.ID) {
			continue
		}
		s.Arm(task)
		armed++
	}

	for _, id := range s.timers.IDs() {
		if !pending[id] {
			s.timers.Disarm(id)
		}
	}
	s.metrics.SetTimersArmed(s.timers.Len())

	if s.cfg.Retention > 0 {
		cutoff := s.clock.Now().Add(-s.cfg.Retention)
		err = s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
			kept := tasks[:0]
			for _, t := range tasks {
				if expired(t, cutoff) {
					pruned++
					continue
				}
				kept = append(kept, t)
			}
			return kept, nil
		})
		if err != nil {
			return armed, 0, fmt.Errorf("failed to prune tasks: %w", err)
		}
	}

	if armed > 0 || pruned > 0 {
		s.logger.WithContext(ctx).Info("scheduler resynced",
			slog.Int("armed", armed),
			slog.Int("pruned", pruned))
	}
	return armed, pruned, nil
}

// recordPending retries writing attempts that failed to persist.
func (s *Scheduler) recordPending(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[string]attempt, len(s.unrecorded))
	for id, a := range s.unrecorded {
		pending[id] = a
	}
	s.mu.Unlock()

	for id, a := range pending {
		err := s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
			if i := findTask(tasks, id); i >= 0 && tasks[i].Pending() {
				a.applyTo(&tasks[i])
			}
			return tasks, nil
		})
		if err != nil {
			s.logger.WithContext(ctx).Warn("still unable to record delivery",
				slog.String("task_id", id),
				slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		delete(s.unrecorded, id)
		s.mu.Unlock()
		s.logger.WithContext(ctx).Info("delivery recorded", slog.String("task_id", id))
	}
}

func expired(t ScheduledTask, cutoff time.Time) bool {
	switch {
	case t.Sent && t.AttemptedAt != nil:
		return t.AttemptedAt.Before(cutoff)
	case t.Status == StatusCancelled:
		return t.CreatedAt.Before(cutoff)
	default:
		return false
	}
}

// Cancel disarms a pending task and marks it cancelled.
// It fails with ErrTaskBusy while a delivery of the task is in flight.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*ScheduledTask, error) {
	if s.hasUnrecorded(id) {
		return nil, ErrTaskAlreadySent
	}
	if !s.reserve(id) {
		return nil, ErrTaskBusy
	}
	defer s.release(id)

	var updated ScheduledTask
	err := s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		i := findTask(tasks, id)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		if tasks[i].Sent {
			return nil, ErrTaskAlreadySent
		}
		tasks[i].Status = StatusCancelled
		updated = tasks[i]
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	s.timers.Disarm(id)
	s.metrics.SetTimersArmed(s.timers.Len())

	s.logger.WithContext(ctx).Info("task cancelled", slog.String("task_id", id))
	return &updated, nil
}

// Delete disarms a task and removes it from the store.
// It fails with ErrTaskBusy while a delivery of the task is in flight.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if !s.reserve(id) {
		return ErrTaskBusy
	}
	defer s.release(id)

	err := s.mutate(ctx, func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		i := findTask(tasks, id)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		return append(tasks[:i], tasks[i+1:]...), nil
	})
	if err != nil {
		return err
	}

	s.timers.Disarm(id)
	s.metrics.SetTimersArmed(s.timers.Len())

	s.logger.WithContext(ctx).Info("task deleted", slog.String("task_id", id))
	return nil
}

// List returns the tasks of ownerID, or every task when ownerID is empty.
func (s *Scheduler) List(ctx context.Context, ownerID string) ([]ScheduledTask, error) {
	tasks, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	if ownerID == "" {
		return tasks, nil
	}

	out := make([]ScheduledTask, 0, len(tasks))
	for _, t := range tasks {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*ScheduledTask, error) {
	tasks, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	i := findTask(tasks, id)
	if i < 0 {
		return nil, ErrTaskNotFound
	}
	task := tasks[i]
	return &task, nil
}

// Armed reports whether a timer is pending for id.
func (s *Scheduler) Armed(id string) bool {
	return s.timers.Armed(id)
}

// Location is the zone wall clock inputs are read in.
func (s *Scheduler) Location() *time.Location {
	return s.cfg.Location
}

// Shutdown disarms every timer and waits for in-flight deliveries. When ctx ends
// first, in-flight deliveries are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	disarmed := s.timers.DisarmAll()
	s.metrics.SetTimersArmed(0)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		s.logger.Info("scheduler stopped", slog.Int("timers_disarmed", disarmed))
		return nil
	case <-ctx.Done():
		s.cancelBase()
		<-done
		return fmt.Errorf("scheduler shutdown interrupted: %w", ctx.Err())
	}
}

func (s *Scheduler) mutate(ctx context.Context, fn func([]ScheduledTask) ([]ScheduledTask, error)) error {
	if u, ok := s.store.(Updater); ok {
		return u.Update(ctx, fn)
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	tasks, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(tasks)
	if err != nil {
		return err
	}
	return s.store.Save(ctx, next)
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) hasUnrecorded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unrecorded[id]
	return ok
}

func (s *Scheduler) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Scheduler) publish(ctx context.Context, subject string, task ScheduledTask, reason string) {
	err := s.publisher.Publish(ctx, subject, events.TaskEvent{
		TaskID:      task.ID,
		OwnerID:     task.OwnerID,
		Connector:   string(task.Connector),
		Status:      string(task.Status),
		Reason:      reason,
		ScheduledAt: task.ScheduledAt,
		OccurredAt:  s.clock.Now().UTC(),
		InstanceID:  logger.GetInstanceID(),
	})
	if err != nil {
		s.logger.WithContext(ctx).Warn("failed to publish task event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
