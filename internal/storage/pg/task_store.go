package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/ozoneai/ozone/internal/delivery"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/scheduler"
)

const selectTasks = `
	SELECT id, owner_id, connector, destination, message, scheduled_at, created_at,
	       sent, status, delivery_reason, delivery_code, attempted_at
	FROM scheduled_tasks
	ORDER BY scheduled_at ASC, created_at ASC
`

const upsertTask = `
	INSERT INTO scheduled_tasks
		(id, owner_id, connector, destination, message, scheduled_at, created_at,
		 sent, status, delivery_reason, delivery_code, attempted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		owner_id = EXCLUDED.owner_id,
		connector = EXCLUDED.connector,
		destination = EXCLUDED.destination,
		message = EXCLUDED.message,
		scheduled_at = EXCLUDED.scheduled_at,
		sent = EXCLUDED.sent,
		status = EXCLUDED.status,
		delivery_reason = EXCLUDED.delivery_reason,
		delivery_code = EXCLUDED.delivery_code,
		attempted_at = EXCLUDED.attempted_at
`

// queryer is what *sql.DB and *sql.Tx have in common.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TaskStore keeps scheduled tasks in PostgreSQL. It shares the table between
// instances: Update serializes read-modify-write cycles with a table lock and
// Claim lets exactly one instance deliver a task.
type TaskStore struct {
	db         *sql.DB
	logger     *logger.Logger
	instanceID string
}

func NewTaskStore(db *sql.DB, log *logger.Logger) *TaskStore {
	return &TaskStore{
		db:         db,
		logger:     log.WithComponent("pg-task-store"),
		instanceID: logger.GetInstanceID(),
	}
}

func (s *TaskStore) Load(ctx context.Context) ([]scheduler.ScheduledTask, error) {
	return loadTasks(ctx, s.db)
}

// Save replaces the stored list with tasks.
func (s *TaskStore) Save(ctx context.Context, tasks []scheduler.ScheduledTask) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return saveTasks(ctx, tx, tasks)
	})
}

// Update runs fn on the current list and stores its result in one transaction.
func (s *TaskStore) Update(ctx context.Context, fn func([]scheduler.ScheduledTask) ([]scheduler.ScheduledTask, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE scheduled_tasks IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock scheduled_tasks: %w", err)
		}

		tasks, err := loadTasks(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(tasks)
		if err != nil {
			return err
		}
		return saveTasks(ctx, tx, next)
	})
}

// Claim marks the task as being delivered by this instance. It reports false
// when another instance claimed it first or it is no longer pending.
func (s *TaskStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET claimed_by = $2, claimed_at = $3
		WHERE id = $1 AND claimed_by IS NULL AND sent = FALSE AND status = 'pending'
	`, id, s.instanceID, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	if n == 0 {
		s.logger.WithContext(ctx).Debug("task claim lost", slog.String("task_id", id))
	}
	return n == 1, nil
}

func (s *TaskStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func loadTasks(ctx context.Context, q queryer) ([]scheduler.ScheduledTask, error) {
	rows, err := q.QueryContext(ctx, selectTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []scheduler.ScheduledTask{}
	for rows.Next() {
		var (
			t           scheduler.ScheduledTask
			connector   string
			status      string
			attemptedAt sql.NullTime
		)
		if err := rows.Scan(
			&t.ID, &t.OwnerID, &connector, &t.To, &t.Message, &t.ScheduledAt, &t.CreatedAt,
			&t.Sent, &status, &t.DeliveryReason, &t.DeliveryCode, &attemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Connector = delivery.Connector(connector)
		t.Status = scheduler.DeliveryStatus(status)
		t.ScheduledAt = t.ScheduledAt.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		if attemptedAt.Valid {
			at := attemptedAt.Time.UTC()
			t.AttemptedAt = &at
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func saveTasks(ctx context.Context, q queryer, tasks []scheduler.ScheduledTask) error {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		var attemptedAt interface{}
		if t.AttemptedAt != nil {
			attemptedAt = *t.AttemptedAt
		}
		if _, err := q.ExecContext(ctx, upsertTask,
			t.ID, t.OwnerID, string(t.Connector), t.To, t.Message, t.ScheduledAt, t.CreatedAt,
			t.Sent, string(t.Status), t.DeliveryReason, t.DeliveryCode, attemptedAt,
		); err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE NOT (id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to prune tasks: %w", err)
	}
	return nil
}
