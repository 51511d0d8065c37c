package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ozoneai/ozone/internal/events"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/metrics"
)

func newTestSession(opts ...Option) *Session {
	base := []Option{
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }),
	}
	return NewSession("Is the moon made of cheese?", append(base, opts...)...)
}

func TestSession_InfoThenResult(t *testing.T) {
	s := newTestSession()

	s.HandleMessage([]byte(`{"timestamp":"2025-03-10T12:00:01.000Z","type":"info","message":"Using model","data":{"model":"gpt-4","provider":"openai","temperature":0.2}}`))
	s.HandleMessage([]byte(`{"timestamp":"2025-03-10T12:00:02.000Z","type":"info","message":"Switching","data":{"model":"other","provider":"other"}}`))
	s.HandleMessage([]byte(`{"timestamp":"2025-03-10T12:00:09.000Z","type":"result","message":"done","data":{"result":{"analysis":{"final_verdict":{"overall_score":82}}}}}`))

	snap := s.Snapshot()
	if snap.Model == nil || snap.Model.Model != "gpt-4" || snap.Model.Provider != "openai" || snap.Model.Temperature != 0.2 {
		t.Errorf("expected first model info to stick, got %+v", snap.Model)
	}
	if !snap.Terminal || snap.State != StateClosed || snap.Outcome != OutcomeCompleted {
		t.Errorf("expected completed terminal session, got state=%s terminal=%v outcome=%s", snap.State, snap.Terminal, snap.Outcome)
	}
	if snap.Result == nil {
		t.Fatal("expected a result")
	}
	report, err := snap.Result.Scan()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.FinalVerdict.OverallScore == nil || *report.FinalVerdict.OverallScore != 82 {
		t.Errorf("expected overall score 82, got %v", report.FinalVerdict.OverallScore)
	}
	if snap.CurrentStep.Description != "Analysis complete!" {
		t.Errorf("unexpected step %+v", snap.CurrentStep)
	}

	last := snap.Log[len(snap.Log)-1]
	if last.Text != "ANALYSIS COMPLETE!" || last.Time != "12:00:09" {
		t.Errorf("unexpected last entry %+v", last)
	}

	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed after the result")
	}
}

func TestSession_MalformedFrame(t *testing.T) {
	s := newTestSession()
	s.HandleMessage([]byte(`{"type":"step","message":"[1/4] Extracting claims"}`))
	before := s.Snapshot()

	s.HandleMessage([]byte("not json"))

	after := s.Snapshot()
	if len(after.Log) != len(before.Log)+1 {
		t.Fatalf("expected exactly one new log entry, got %d -> %d", len(before.Log), len(after.Log))
	}
	entry := after.Log[len(after.Log)-1]
	if entry.Kind != KindParseError || !strings.HasPrefix(entry.Text, "Parse Error: ") {
		t.Errorf("unexpected diagnostic entry %+v", entry)
	}
	if after.Terminal || after.State != before.State || after.CurrentStep != before.CurrentStep || after.Error != "" {
		t.Errorf("malformed frame changed the session: %+v", after)
	}
}

func TestSession_StepAndVerdict(t *testing.T) {
	s := newTestSession()

	s.HandleMessage([]byte(`{"timestamp":"2025-03-10T12:00:01Z","type":"step","message":"[2/5] Searching the web","data":{"status":"complete"}}`))
	snap := s.Snapshot()
	if snap.CurrentStep != (Step{Number: "2/5", Description: "Searching the web"}) {
		t.Errorf("unexpected step %+v", snap.CurrentStep)
	}
	if len(snap.Log) != 2 || snap.Log[0].Text != "STEP: [2/5] Searching the web" || snap.Log[1].Text != "Complete" {
		t.Errorf("unexpected log %+v", snap.Log)
	}

	s.HandleMessage([]byte(`{"type":"step","message":"Wrapping up"}`))
	if step := s.Snapshot().CurrentStep; step.Number != "" || step.Description != "Wrapping up" {
		t.Errorf("expected unnumbered step, got %+v", step)
	}

	s.HandleMessage([]byte(`{"type":"verdict","message":"Mostly false"}`))
	snap = s.Snapshot()
	if snap.Answer != "\n\n**Final Verdict:** Mostly false\n" {
		t.Errorf("unexpected answer %q", snap.Answer)
	}
	if got := snap.Log[len(snap.Log)-1]; got.Text != "FINAL VERDICT: Mostly false" || got.Time != "N/A" {
		t.Errorf("unexpected verdict entry %+v", got)
	}
}

func TestSession_SourcesAreNotDeduplicated(t *testing.T) {
	s := newTestSession()
	frame := `{"type":"search","data":{"query":"cheese moon","sources":[{"url":"https://nasa.gov/moon","title":"NASA"}]}}`
	s.HandleMessage([]byte(frame))
	s.HandleMessage([]byte(frame))

	snap := s.Snapshot()
	if len(snap.Sources) != 2 || len(snap.SearchQueries) != 2 {
		t.Errorf("expected duplicates kept, got %d sources and %d queries", len(snap.Sources), len(snap.SearchQueries))
	}
	if !snap.Searching {
		t.Error("expected searching to be set")
	}
	if snap.Log[0].Text != `SEARCH: "cheese moon" (1 sources)` {
		t.Errorf("unexpected search entry %q", snap.Log[0].Text)
	}
}

func TestSession_LogLines(t *testing.T) {
	s := newTestSession()
	s.HandleMessage([]byte(`{"type":"claim_start","data":{"id":"claim-1"}}`))
	s.HandleMessage([]byte(`{"type":"claim","data":{"id":"claim-1","status":"refuted","confidence":0.85}}`))
	s.HandleMessage([]byte(`{"type":"media","message":"no images found"}`))
	s.HandleMessage([]byte(`{"type":"warning","message":"rate limited"}`))

	want := []string{
		"VERIFYING: claim-1",
		"CLAIM: refuted (Confidence: 0.85)",
		"MEDIA: no images found",
		"warning: rate limited",
	}
	snap := s.Snapshot()
	if len(snap.Log) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), snap.Log)
	}
	for i, text := range want {
		if snap.Log[i].Text != text {
			t.Errorf("entry %d = %q, want %q", i, snap.Log[i].Text, text)
		}
	}
}

func TestSession_IgnoresMessagesAfterTerminal(t *testing.T) {
	s := newTestSession()
	s.HandleMessage([]byte(`{"type":"error","message":"backend exploded"}`))
	before := s.Snapshot()

	s.HandleMessage([]byte(`{"type":"info","message":"late"}`))
	s.HandleMessage([]byte(`{"type":"result","data":{"result":{"analysis":{"x":1}}}}`))
	s.HandleMessage([]byte("garbage"))

	after := s.Snapshot()
	if len(after.Log) != len(before.Log) || after.Result != nil || after.Outcome != OutcomeFailed {
		t.Errorf("session changed after terminal message: %+v", after)
	}
	if after.Error != "backend exploded" {
		t.Errorf("expected error to be recorded, got %q", after.Error)
	}
}

func TestSession_EndToEnd(t *testing.T) {
	endpoint, requests := newBackend(t,
		`{"timestamp":"2025-03-10T12:00:01.000Z","type":"info","message":"Using gpt-4","data":{"model":"gpt-4","provider":"openai","temperature":0.2}}`,
		`{"timestamp":"2025-03-10T12:00:02.000Z","type":"step","message":"[1/2] Searching"}`,
		`{"timestamp":"2025-03-10T12:00:03.000Z","type":"result","message":"done","data":{"result":{"analysis":{"final_verdict":{"label":"False","overall_score":12}}}}}`,
	)

	publisher := &recordingPublisher{}
	m := metrics.New()
	s := NewSession("cheese", WithEndpoint(endpoint), WithLogger(logger.Discard()), WithPublisher(publisher), WithMetrics(m))

	var mu sync.Mutex
	var seen []Snapshot
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	defer cancel()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, s)

	select {
	case req := <-requests:
		if req.Input != "cheese" || req.StoreInNeo4j {
			t.Errorf("unexpected request %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("backend never received the request")
	}

	snap := s.Snapshot()
	if !snap.Terminal || snap.Outcome != OutcomeCompleted || snap.Model == nil {
		t.Errorf("unexpected final snapshot %+v", snap)
	}

	mu.Lock()
	lastSeen := seen[len(seen)-1]
	mu.Unlock()
	if !lastSeen.Terminal {
		t.Error("expected subscribers to see the terminal snapshot before Done")
	}

	published := publisher.published()
	if len(published) != 1 {
		t.Fatalf("expected one event, got %d", len(published))
	}
	event := published[0].(events.AnalysisEvent)
	if event.Outcome != OutcomeCompleted || event.VerdictLabel != "False" || event.OverallScore == nil || *event.OverallScore != 12 {
		t.Errorf("unexpected event %+v", event)
	}
}

func TestSession_DialFailure(t *testing.T) {
	dialer := &countingDialer{err: errors.New("connection refused")}
	s := newTestSession(WithDialer(dialer.Dial), WithEndpoint("ws://backend.invalid/ws/analyze"))

	err := s.Start(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateErrored || !snap.Terminal || snap.Outcome != OutcomeErrored {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !strings.Contains(snap.Error, "ws://backend.invalid/ws/analyze") {
		t.Errorf("expected endpoint in error, got %q", snap.Error)
	}
	waitDone(t, s)
}

func TestSession_StartOnce(t *testing.T) {
	conn := newFakeConn()
	dialer := &countingDialer{conn: conn}
	s := newTestSession(WithDialer(dialer.Dial))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if dialer.count() != 1 {
		t.Errorf("expected one dial, got %d", dialer.count())
	}
	if reqs := conn.requests(); len(reqs) != 1 {
		t.Errorf("expected one request frame, got %d", len(reqs))
	}

	s.Close()
	s.Close()
	if conn.closes() != 1 {
		t.Errorf("expected transport closed exactly once, got %d", conn.closes())
	}
	if snap := s.Snapshot(); snap.Outcome != OutcomeCancelled || snap.State != StateClosed {
		t.Errorf("unexpected snapshot after close %+v", snap)
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_TransportDropsBeforeResult(t *testing.T) {
	conn := newFakeConn()
	dialer := &countingDialer{conn: conn}
	s := newTestSession(WithDialer(dialer.Dial))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.send(`{"type":"info","message":"hello"}`)
	waitFor(t, func() bool { return len(s.Snapshot().Log) == 1 })

	conn.drop()
	waitDone(t, s)

	snap := s.Snapshot()
	if snap.State != StateErrored || snap.Outcome != OutcomeErrored {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !strings.Contains(snap.Error, "closed before") {
		t.Errorf("unexpected error %q", snap.Error)
	}
	if snap.CurrentStep.Description != "Connection closed" {
		t.Errorf("unexpected step %+v", snap.CurrentStep)
	}
}

func TestSession_ResultClosesTransport(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(WithDialer((&countingDialer{conn: conn}).Dial))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.send(`{"type":"result","data":{"result":{"analysis":{"ok":true}}}}`)
	waitDone(t, s)

	if conn.closes() != 1 {
		t.Errorf("expected transport closed once, got %d", conn.closes())
	}
	s.Close()
	if conn.closes() != 1 {
		t.Errorf("close after result must not close the transport again, got %d", conn.closes())
	}
}

func TestSession_SubscribeCancel(t *testing.T) {
	s := newTestSession()
	calls := 0
	cancel := s.Subscribe(func(Snapshot) { calls++ })

	s.HandleMessage([]byte(`{"type":"info","message":"one"}`))
	cancel()
	s.HandleMessage([]byte(`{"type":"info","message":"two"}`))

	if calls != 1 {
		t.Errorf("expected 1 notification, got %d", calls)
	}
}
