// Package analysis drives one streaming conversation with the misinformation
// analysis backend and folds its progress messages into a view model.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ozoneai/ozone/internal/events"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/metrics"
)

// ConnectionState is the transport state of a session.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateErrored    ConnectionState = "errored"
)

// Outcomes recorded when a session finishes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeErrored   = "errored"
	OutcomeCancelled = "cancelled"
)

// KindParseError tags the diagnostic log entry of an undecodable frame.
const KindParseError MessageType = "parse_error"

// KindConnection tags log entries about the transport itself.
const KindConnection MessageType = "connection"

var (
	ErrSessionClosed = errors.New("analysis session closed")
	ErrConnect       = errors.New("failed to connect to analysis server")
)

type LogEntry struct {
	Time string      `json:"time"`
	Kind MessageType `json:"kind"`
	Text string      `json:"text"`
}

func (e LogEntry) String() string {
	if e.Time == "" {
		return e.Text
	}
	return "[" + e.Time + "] " + e.Text
}

// Step is the latest progress marker. Number is empty when the backend sent none.
type Step struct {
	Number      string `json:"number,omitempty"`
	Description string `json:"description"`
}

// Snapshot is an immutable copy of a session's view model.
type Snapshot struct {
	ID            string          `json:"id"`
	Query         string          `json:"query"`
	State         ConnectionState `json:"state"`
	Log           []LogEntry      `json:"log"`
	Sources       []Source        `json:"sources"`
	SearchQueries []string        `json:"search_queries"`
	Searching     bool            `json:"searching"`
	CurrentStep   Step            `json:"current_step"`
	Model         *ModelInfo      `json:"model,omitempty"`
	Answer        string          `json:"answer"`
	Result        *Result         `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Terminal      bool            `json:"terminal"`
	Outcome       string          `json:"outcome,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

func WithID(id string) Option { return func(s *Session) { s.id = id } }
func WithOwner(ownerID string) Option { return func(s *Session) { s.ownerID = ownerID } }
func WithEndpoint(endpoint string) Option { return func(s *Session) { s.endpoint = endpoint } }
func WithDialer(d Dialer) Option { return func(s *Session) { s.dial = d } }
func WithLogger(l *logger.Logger) Option { return func(s *Session) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }
func WithPublisher(p events.Publisher) Option { return func(s *Session) { s.publisher = p } }
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }
func WithStoreInNeo4j(store bool) Option { return func(s *Session) { s.storeInNeo4j = store } }
func WithIdleTimeout(d time.Duration) Option { return func(s *Session) { s.idleTimeout = d } }

// Session is one query-to-verdict interaction over a single connection. The
// transport is opened at most once and closed at most once.
type Session struct {
	id           string
	ownerID      string
	query        string
	endpoint     string
	storeInNeo4j bool
	idleTimeout  time.Duration
	dial         Dialer
	now          func() time.Time
	logger       *logger.Logger
	metrics      *metrics.Metrics
	publisher    events.Publisher

	mu            sync.Mutex
	state         ConnectionState
	started       bool
	disposed      bool
	terminal      bool
	counted       bool
	conn          Conn
	log           []LogEntry
	sources       []Source
	searchQueries []string
	searching     bool
	step          Step
	model         *ModelInfo
	answer        strings.Builder
	result        *Result
	errMsg        string
	outcome       string
	createdAt     time.Time
	finishedAt    *time.Time

	listenersMu  sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int

	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(query string, opts ...Option) *Session {
	s := &Session{
		query:     query,
		endpoint:  DefaultEndpoint,
		now:       time.Now,
		publisher: events.NopPublisher{},
		state:     StateIdle,
		listeners: make(map[int]func(Snapshot)),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.dial == nil {
		s.dial = WebSocketDialer(nil)
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	s.logger = &logger.Logger{Logger: s.logger.WithComponent("analysis").With(slog.String("session_id", s.id))}
	s.createdAt = s.now().UTC()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Query() string   { return s.query }
func (s *Session) OwnerID() string { return s.ownerID }

// Done is closed once the session reached a terminal state or was closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// effects are applied after the session lock is released.
type effects struct {
	conn     Conn
	finished bool
	wasOpen  bool
	publish  bool
	event    events.AnalysisEvent
}

// Start opens the transport and sends the analysis request. Calling it again
// while started is a no-op; calling it after Close returns ErrSessionClosed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.state = StateConnecting
	s.step.Description = "Connecting to analysis server..."
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	log := s.logger.WithContext(ctx)
	log.Info("connecting to analysis server", slog.String("endpoint", s.endpoint))

	conn, err := s.dial(ctx, s.endpoint)
	if err != nil {
		log.Error("analysis server dial failed", slog.String("error", err.Error()))
		s.fail(fmt.Sprintf("Failed to connect to analysis server at %s", s.endpoint), "Connection failed")
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.state = StateOpen
	s.counted = true
	s.step.Description = "Connected. Sending analysis request..."
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.notify(snap)

	if err := conn.WriteJSON(Request{Input: s.query, StoreInNeo4j: s.storeInNeo4j}); err != nil {
		log.Error("failed to send analysis request", slog.String("error", err.Error()))
		s.fail("Failed to send analysis request", "Connection failed")
		return fmt.Errorf("failed to send analysis request: %w", err)
	}

	log.Info("analysis request sent", slog.Int("input_length", len(s.query)))

	go s.readLoop(conn)
	return nil
}

func (s *Session) readLoop(conn Conn) {
	for {
		if s.idleTimeout > 0 {
			_ = conn.SetReadDeadline(s.now().Add(s.idleTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.transportClosed(err)
			return
		}

		s.HandleMessage(data)

		s.mu.Lock()
		stop := s.terminal || s.disposed
		s.mu.Unlock()
		if stop {
			return
		}
	}
}

// transportClosed turns a read failure before a terminal message into an errored session.
func (s *Session) transportClosed(err error) {
	s.mu.Lock()
	quiet := s.terminal || s.disposed
	s.mu.Unlock()
	if quiet {
		return
	}

	msg := "Connection to analysis server closed before the analysis completed"
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = fmt.Sprintf("No message from analysis server for %s", s.idleTimeout)
	}

	s.logger.Warn("analysis transport closed", slog.String("error", err.Error()))
	s.fail(msg, "Connection closed")
}

// fail marks the session errored after a transport problem.
func (s *Session) fail(msg, step string) {
	s.mu.Lock()
	if s.terminal || s.disposed {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.errMsg = msg
	s.step.Description = step
	s.appendLog(s.clock(), KindConnection, "ERROR: "+msg)
	s.finishLocked(OutcomeErrored, StateErrored, &fx)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.run(fx)
}

// HandleMessage decodes one inbound frame and applies it. Undecodable frames add
// a single diagnostic log entry. Frames after a terminal message are ignored.
func (s *Session) HandleMessage(raw []byte) {
	msg, err := Decode(raw)

	s.mu.Lock()
	if s.terminal || s.disposed {
		s.mu.Unlock()
		s.logger.Debug("ignoring message after terminal state")
		return
	}

	var fx effects
	if err != nil {
		s.appendLog(s.clock(), KindParseError, "Parse Error: "+err.Error())
		s.metrics.ObserveParseError()
	} else {
		s.metrics.ObserveMessage(string(msg.Metadata().Type))
		s.apply(msg, &fx)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to parse analysis message", slog.String("error", err.Error()))
	}

	s.notify(snap)
	s.run(fx)
}

func (s *Session) apply(msg Message, fx *effects) {
	meta := msg.Metadata()
	at := LogTime(meta.Timestamp)

	switch m := msg.(type) {
	case InfoMessage:
		s.appendLog(at, TypeInfo, m.Text)
		if m.Model != nil && s.model == nil {
			model := *m.Model
			s.model = &model
		}

	case StepMessage:
		s.step = Step{Number: m.Number, Description: m.Description}
		s.appendLog(at, TypeStep, "STEP: "+m.Text)
		if m.Status == "complete" {
			s.appendLog(at, TypeStep, "Complete")
		}

	case SearchMessage:
		s.appendLog(at, TypeSearch, fmt.Sprintf("SEARCH: \"%s\" (%d sources)", m.Query, len(m.Sources)))
		if m.Query != "" {
			s.searchQueries = append(s.searchQueries, m.Query)
			s.searching = true
		}
		s.sources = append(s.sources, m.Sources...)

	case ClaimStartMessage:
		s.appendLog(at, TypeClaimStart, "VERIFYING: "+m.ClaimID)

	case ClaimMessage:
		confidence := "n/a"
		if m.Confidence != nil {
			confidence = strconv.FormatFloat(*m.Confidence, 'f', -1, 64)
		}
		s.appendLog(at, TypeClaim, fmt.Sprintf("CLAIM: %s (Confidence: %s)", m.Status, confidence))

	case FindingMessage:
		s.appendLog(at, m.Type, strings.ToUpper(string(m.Type))+": "+m.Text)

	case VerdictMessage:
		s.appendLog(at, TypeVerdict, "FINAL VERDICT: "+m.Text)
		s.answer.WriteString("\n\n**Final Verdict:** " + m.Text + "\n")

	case ResultMessage:
		s.appendLog(at, TypeResult, "ANALYSIS COMPLETE!")
		s.step.Description = "Analysis complete!"
		s.result = &Result{Analysis: m.Analysis, Report: m.Report}
		s.finishLocked(OutcomeCompleted, StateClosed, fx)

	case ErrorMessage:
		s.appendLog(at, TypeError, "ERROR: "+m.Detail)
		s.errMsg = m.Detail
		s.finishLocked(OutcomeFailed, StateClosed, fx)

	case UnknownMessage:
		s.appendLog(at, m.Type, string(m.Type)+": "+m.Text)
	}
}

// Close tears the session down, closing the transport if it is still open.
// A closed session cannot be started again; a retry needs a new Session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true

	var fx effects
	if !s.terminal {
		s.finishLocked(OutcomeCancelled, StateClosed, &fx)
	}
	// The transport goes even when the terminal message already arrived.
	if s.conn != nil {
		fx.conn = s.conn
		s.conn = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.run(fx)
	s.doneOnce.Do(func() { close(s.done) })
}

// finishLocked moves the session to its terminal state. Caller holds s.mu.
func (s *Session) finishLocked(outcome string, state ConnectionState, fx *effects) {
	now := s.now().UTC()
	s.terminal = true
	s.state = state
	s.outcome = outcome
	s.finishedAt = &now
	s.searching = false

	fx.conn = s.conn
	s.conn = nil
	fx.finished = true
	fx.wasOpen = s.counted
	s.counted = false
	fx.publish = s.started

	event := events.AnalysisEvent{
		SessionID:  s.id,
		Outcome:    outcome,
		Error:      s.errMsg,
		Sources:    len(s.sources),
		OccurredAt: now,
		InstanceID: logger.GetInstanceID(),
	}
	if report, err := s.result.Scan(); err == nil {
		event.OverallScore = report.FinalVerdict.OverallScore
		event.VerdictLabel = report.FinalVerdict.Label
	}
	fx.event = event
}

func (s *Session) run(fx effects) {
	if fx.conn != nil {
		if err := fx.conn.Close(); err != nil {
			s.logger.Debug("closing analysis transport", slog.String("error", err.Error()))
		}
	}
	if !fx.finished {
		return
	}

	s.metrics.SessionFinished(fx.event.Outcome, fx.wasOpen)
	s.logger.Info("analysis session finished",
		slog.String("outcome", fx.event.Outcome),
		slog.Int("sources", fx.event.Sources))

	if fx.publish {
		ctx := logger.WithSessionID(context.Background(), s.id)
		if err := s.publisher.Publish(ctx, events.SubjectAnalysisFinished, fx.event); err != nil {
			s.logger.Warn("failed to publish analysis event", slog.String("error", err.Error()))
		}
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) appendLog(at string, kind MessageType, text string) {
	s.log = append(s.log, LogEntry{Time: at, Kind: kind, Text: text})
}

func (s *Session) clock() string {
	return s.now().Format("15:04:05")
}

// Snapshot returns a copy of the current view model.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		Query:         s.query,
		State:         s.state,
		Log:           append([]LogEntry{}, s.log...),
		Sources:       append([]Source{}, s.sources...),
		SearchQueries: append([]string{}, s.searchQueries...),
		Searching:     s.searching,
		CurrentStep:   s.step,
		Answer:        s.answer.String(),
		Error:         s.errMsg,
		Terminal:      s.terminal,
		Outcome:       s.outcome,
		CreatedAt:     s.createdAt,
	}
	if s.model != nil {
		model := *s.model
		snap.Model = &model
	}
	if s.result != nil {
		result := *s.result
		snap.Result = &result
	}
	if s.finishedAt != nil {
		at := *s.finishedAt
		snap.FinishedAt = &at
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change. Changes from
// the read loop are delivered in arrival order. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
