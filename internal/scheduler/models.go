package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/ozoneai/ozone/internal/delivery"
)

// DeliveryStatus is the lifecycle state of a scheduled task.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusFailed    DeliveryStatus = "failed"
	StatusCancelled DeliveryStatus = "cancelled"
)

// Mode decides how a delivery attempt maps onto DeliveryStatus.
type Mode string

const (
	// ModeTracked records sent or failed depending on the connector result.
	ModeTracked Mode = "tracked"
	// ModeStrict records sent after any attempt, whatever the connector said.
	ModeStrict Mode = "strict"
)

// ParseMode parses a scheduler mode. Empty means tracked.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeTracked):
		return ModeTracked, nil
	case string(ModeStrict):
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown scheduler mode %q (must be 'tracked' or 'strict')", s)
	}
}

// ScheduledTask is a time-triggered request to deliver a message through a connector.
// Sent means a delivery was attempted; Status tells how it went.
type ScheduledTask struct {
	ID             string             `json:"id"`
	OwnerID        string             `json:"owner_id,omitempty"`
	Connector      delivery.Connector `json:"connector"`
	To             string             `json:"to"`
	Message        string             `json:"message"`
	ScheduledAt    time.Time          `json:"scheduled_at"`
	CreatedAt      time.Time          `json:"created_at"`
	Sent           bool               `json:"sent"`
	Status         DeliveryStatus     `json:"status"`
	DeliveryReason string             `json:"delivery_reason,omitempty"`
	DeliveryCode   int                `json:"delivery_code,omitempty"`
	AttemptedAt    *time.Time         `json:"attempted_at,omitempty"`
}

// Pending reports whether the task still waits for its delivery.
func (t ScheduledTask) Pending() bool {
	return !t.Sent && (t.Status == StatusPending || t.Status == "")
}

// CreateTaskRequest is the input of Create. LocalDateTime is a wall clock reading
// ("2006-01-02T15:04") in the scheduler's configured zone.
type CreateTaskRequest struct {
	Connector     string `json:"connector" binding:"required"`
	To            string `json:"to"`
	Message       string `json:"message" binding:"required"`
	LocalDateTime string `json:"local_datetime" binding:"required"`
}

// CreateTaskResponse is returned by POST /api/v1/tasks.
type CreateTaskResponse struct {
	Task *ScheduledTask `json:"task"`
}

// GetTasksResponse is returned by GET /api/v1/tasks.
type GetTasksResponse struct {
	Tasks []ScheduledTask `json:"tasks"`
}

// DeleteTaskResponse is returned by DELETE /api/v1/tasks/:id.
type DeleteTaskResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
