// Package events publishes analysis and delivery outcomes to NATS so other
// instances and downstream consumers can react to them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ozoneai/ozone/internal/logger"
)

const (
	SubjectTaskDelivered    = "tasks.delivered"
	SubjectTaskCreated      = "tasks.created"
	SubjectAnalysisFinished = "analysis.finished"
)

// Publisher emits JSON events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// TaskEvent describes a scheduled task lifecycle change.
type TaskEvent struct {
	TaskID      string    `json:"task_id"`
	OwnerID     string    `json:"owner_id,omitempty"`
	Connector   string    `json:"connector"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	OccurredAt  time.Time `json:"occurred_at"`
	InstanceID  string    `json:"instance_id"`
}

// AnalysisEvent describes how an analysis session ended.
type AnalysisEvent struct {
	SessionID    string    `json:"session_id"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	OverallScore *float64  `json:"overall_score,omitempty"`
	VerdictLabel string    `json:"verdict_label,omitempty"`
	Sources      int       `json:"sources"`
	OccurredAt   time.Time `json:"occurred_at"`
	InstanceID   string    `json:"instance_id"`
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events on "<prefix>.<subject>".
type NATSPublisher struct {
	nc     conn
	prefix string
	logger *logger.Logger
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logger.Logger) *NATSPublisher {
	return newPublisher(nc, prefix, logger)
}

func newPublisher(nc conn, prefix string, logger *logger.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		logger: logger.WithComponent("events"),
	}
}

// Connect dials NATS. An empty URL yields a no-op publisher and a nil connection.
func Connect(url, prefix string, log *logger.Logger) (Publisher, *nats.Conn, error) {
	if url == "" {
		log.Info("NATS_URL not set, events disabled")
		return NopPublisher{}, nil, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("ozone-"+logger.GetInstanceID()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	log.Info("connected to NATS", slog.String("url", nc.ConnectedUrl()))
	return NewNATSPublisher(nc, prefix, log), nc, nil
}

// Publish marshals event to JSON and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	full := subject
	if p.prefix != "" {
		full = p.prefix + "." + subject
	}

	if err := p.nc.Publish(full, data); err != nil {
		p.logger.WithContext(ctx).Warn("failed to publish event",
			slog.String("subject", full),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to publish %s: %w", full, err)
	}

	p.logger.WithContext(ctx).Debug("event published",
		slog.String("subject", full),
		slog.Int("size", len(data)))
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
