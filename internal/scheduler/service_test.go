package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ozoneai/ozone/internal/delivery"
	"github.com/ozoneai/ozone/internal/logger"
)

// 2025-03-10 12:00:00 in UTC+05:30.
var baseTime = time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC)

func istLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := ParseZone("+05:30")
	if err != nil {
		t.Fatalf("failed to parse zone: %v", err)
	}
	return loc
}

func newTestScheduler(t *testing.T, store TaskStore, d Deliverer, cfg Config) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := newFakeClock(baseTime)
	cfg.Clock = clock
	if cfg.Location == nil {
		cfg.Location = istLocation(t)
	}
	s := New(cfg, store, d, logger.Discard())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, clock
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCreate_DeliversWhenDue(t *testing.T) {
	d := &recordingDeliverer{result: delivery.Result{OK: true, Status: 202}}
	store := NewMemoryStore()
	s, clock := newTestScheduler(t, store, d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{
		Connector:     "email",
		To:            "user@example.com",
		Message:       "reminder",
		LocalDateTime: "2025-03-10T12:01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !task.ScheduledAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("expected scheduled_at %v, got %v", baseTime.Add(time.Minute), task.ScheduledAt)
	}
	if !s.Armed(task.ID) {
		t.Fatal("expected a timer to be armed")
	}

	clock.Advance(59 * time.Second)
	if n := len(d.Requests()); n != 0 {
		t.Fatalf("delivered %d times before the due time", n)
	}

	clock.Advance(time.Second)
	reqs := d.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one delivery, got %d", len(reqs))
	}
	if reqs[0].Connector != delivery.ConnectorEmail || reqs[0].To != "user@example.com" ||
		reqs[0].Subject != DefaultEmailSubject || reqs[0].Body != "reminder" {
		t.Errorf("unexpected request %+v", reqs[0])
	}

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Sent || got.Status != StatusSent {
		t.Errorf("expected sent task, got sent=%v status=%s", got.Sent, got.Status)
	}
	if got.AttemptedAt == nil || !got.AttemptedAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("unexpected attempted_at %v", got.AttemptedAt)
	}
	if s.Armed(task.ID) {
		t.Error("timer should be gone after firing")
	}
}

func TestCreate_WhatsAppWithoutCredentials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	twilio := delivery.NewTwilioClient(delivery.TwilioConfig{BaseURL: srv.URL}, logger.Discard())
	dispatcher := delivery.NewDispatcher(twilio, nil, "", logger.Discard())

	s, clock := newTestScheduler(t, NewMemoryStore(), dispatcher, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{
		Connector:     "whatsapp",
		To:            "15551234567",
		Message:       "hi",
		LocalDateTime: "2025-03-10T12:00:02",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(2 * time.Second)

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Sent {
		t.Error("expected task to be marked sent after the attempt")
	}
	if got.DeliveryReason != delivery.ReasonNoCredentials {
		t.Errorf("expected reason %q, got %q", delivery.ReasonNoCredentials, got.DeliveryReason)
	}
	if got.Status != StatusFailed {
		t.Errorf("expected failed status in tracked mode, got %s", got.Status)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("expected no network calls, got %d", hits)
	}
}

func TestCreate_OverdueDeliversImmediately(t *testing.T) {
	d := &recordingDeliverer{result: delivery.Result{OK: true, Status: 201}}
	s, _ := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{
		Connector:     "whatsapp",
		To:            "15551234567",
		Message:       "late",
		LocalDateTime: "2025-03-10T11:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Armed(task.ID) {
		t.Error("overdue task should not wait on a timer")
	}

	waitFor(t, func() bool {
		got, err := s.Get(ctx, task.ID)
		return err == nil && got.Sent
	})

	if n := len(d.Requests()); n != 1 {
		t.Errorf("expected one delivery, got %d", n)
	}
}

func TestDeliver_StrictModeMarksSent(t *testing.T) {
	d := &recordingDeliverer{result: delivery.Result{OK: false, Status: 500}}
	store := NewMemoryStore(ScheduledTask{
		ID:          "t1",
		Connector:   delivery.ConnectorWhatsApp,
		To:          "1",
		Message:     "m",
		ScheduledAt: baseTime,
		Status:      StatusPending,
	})
	s, _ := newTestScheduler(t, store, d, Config{Mode: ModeStrict})

	got, err := s.Deliver(context.Background(), ScheduledTask{ID: "t1", Connector: delivery.ConnectorWhatsApp, To: "1", Message: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Sent || got.Status != StatusSent {
		t.Errorf("strict mode should record sent, got sent=%v status=%s", got.Sent, got.Status)
	}
	if got.DeliveryCode != 500 {
		t.Errorf("expected delivery code 500, got %d", got.DeliveryCode)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestScheduler(t, NewMemoryStore(), &recordingDeliverer{}, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateTaskRequest
		want error
	}{
		{"bad connector", CreateTaskRequest{Connector: "sms", To: "1", Message: "m", LocalDateTime: "2025-03-10T13:00"}, ErrInvalidTask},
		{"empty message", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "  ", LocalDateTime: "2025-03-10T13:00"}, ErrInvalidTask},
		{"bad datetime", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "soon"}, ErrInvalidTask},
		{"no destination", CreateTaskRequest{Connector: "email", Message: "m", LocalDateTime: "2025-03-10T13:00"}, ErrMissingDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, "owner-1", tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	tasks, _ := s.List(ctx, "")
	if len(tasks) != 0 {
		t.Errorf("invalid requests must not be persisted, got %d tasks", len(tasks))
	}
}

func TestCreate_DefaultDestinationAndGmailAlias(t *testing.T) {
	s, _ := newTestScheduler(t, NewMemoryStore(), &recordingDeliverer{}, Config{
		Destinations: staticDestinations{delivery.ConnectorEmail: "saved@example.com"},
	})

	task, err := s.Create(context.Background(), "owner-1", CreateTaskRequest{
		Connector:     "gmail",
		Message:       "m",
		LocalDateTime: "2025-03-10T13:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Connector != delivery.ConnectorEmail {
		t.Errorf("expected email connector, got %s", task.Connector)
	}
	if task.To != "saved@example.com" {
		t.Errorf("expected stored destination, got %q", task.To)
	}
}

func TestRestore_SkipsSentAndCancelled(t *testing.T) {
	attempted := baseTime.Add(-time.Hour)
	store := NewMemoryStore(
		ScheduledTask{ID: "sent", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime.Add(-2 * time.Hour), Sent: true, Status: StatusSent, AttemptedAt: &attempted},
		ScheduledTask{ID: "pending", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime.Add(time.Hour), Status: StatusPending},
		ScheduledTask{ID: "cancelled", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime.Add(time.Hour), Status: StatusCancelled},
	)
	d := &recordingDeliverer{result: delivery.Result{OK: true}}
	s, clock := newTestScheduler(t, store, d, Config{})

	armed, err := s.Restore(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if armed != 1 {
		t.Errorf("expected 1 armed task, got %d", armed)
	}
	if !s.Armed("pending") || s.Armed("sent") || s.Armed("cancelled") {
		t.Error("only the pending task should be armed")
	}

	clock.Advance(time.Hour)
	reqs := d.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(reqs))
	}
}

func TestFileStore_RoundTripAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	d := &recordingDeliverer{result: delivery.Result{OK: true}}
	s, _ := newTestScheduler(t, NewFileStore(path), d, Config{})
	ctx := context.Background()

	var created []*ScheduledTask
	for _, at := range []string{"2025-03-10T13:00", "2025-03-11T08:30"} {
		task, err := s.Create(ctx, "owner-1", CreateTaskRequest{
			Connector:     "whatsapp",
			To:            "15550001111",
			Message:       "msg " + at,
			LocalDateTime: at,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		created = append(created, task)
	}

	reloaded, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reloaded) != len(created) {
		t.Fatalf("expected %d tasks, got %d", len(created), len(reloaded))
	}
	for i, want := range created {
		got := reloaded[i]
		if got.ID != want.ID || got.To != want.To || got.Message != want.Message || !got.ScheduledAt.Equal(want.ScheduledAt) {
			t.Errorf("task %d did not round trip: got %+v want %+v", i, got, *want)
		}
	}

	// A fresh process re-arms the same ids.
	restarted, _ := newTestScheduler(t, NewFileStore(path), d, Config{})
	armed, err := restarted.Restore(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if armed != 2 {
		t.Errorf("expected 2 armed tasks, got %d", armed)
	}
	for _, task := range created {
		if !restarted.Armed(task.ID) {
			t.Errorf("task %s not re-armed", task.ID)
		}
	}
}

func TestCancel(t *testing.T) {
	d := &recordingDeliverer{result: delivery.Result{OK: true}}
	s, clock := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := s.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if s.Armed(task.ID) {
		t.Error("cancel should disarm the timer")
	}

	clock.Advance(time.Hour)
	if n := len(d.Requests()); n != 0 {
		t.Errorf("cancelled task was delivered %d times", n)
	}

	if _, err := s.Cancel(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancel_AlreadySent(t *testing.T) {
	store := NewMemoryStore(ScheduledTask{ID: "t1", Sent: true, Status: StatusSent})
	s, _ := newTestScheduler(t, store, &recordingDeliverer{}, Config{})

	if _, err := s.Cancel(context.Background(), "t1"); !errors.Is(err, ErrTaskAlreadySent) {
		t.Errorf("expected ErrTaskAlreadySent, got %v", err)
	}
}

func TestSendNow(t *testing.T) {
	d := &recordingDeliverer{result: delivery.Result{OK: true, Status: 201}}
	s, clock := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "whatsapp", To: "+15551234567", Message: "m", LocalDateTime: "2025-03-10T13:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent, err := s.SendNow(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent.Sent || sent.Status != StatusSent || sent.DeliveryCode != 201 {
		t.Errorf("unexpected task after send %+v", sent)
	}
	if s.Armed(task.ID) {
		t.Error("send now should disarm the timer")
	}

	clock.Advance(2 * time.Hour)
	if n := len(d.Requests()); n != 1 {
		t.Errorf("expected exactly one delivery, got %d", n)
	}

	if _, err := s.SendNow(ctx, task.ID); !errors.Is(err, ErrTaskAlreadySent) {
		t.Errorf("expected ErrTaskAlreadySent, got %v", err)
	}
	if _, err := s.SendNow(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	cancelled, _ := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T13:00"})
	_, _ = s.Cancel(ctx, cancelled.ID)
	if _, err := s.SendNow(ctx, cancelled.ID); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask for a cancelled task, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	d := &recordingDeliverer{}
	s, clock := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, _ := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:10"})

	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound after delete, got %v", err)
	}
	clock.Advance(time.Hour)
	if n := len(d.Requests()); n != 0 {
		t.Errorf("deleted task was delivered %d times", n)
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestList_FiltersByOwner(t *testing.T) {
	store := NewMemoryStore(
		ScheduledTask{ID: "a", OwnerID: "u1", Status: StatusCancelled},
		ScheduledTask{ID: "b", OwnerID: "u2", Status: StatusCancelled},
		ScheduledTask{ID: "c", OwnerID: "u1", Status: StatusCancelled},
	)
	s, _ := newTestScheduler(t, store, &recordingDeliverer{}, Config{})

	tasks, err := s.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "c" {
		t.Errorf("unexpected tasks %+v", tasks)
	}
}

func TestResync_ArmsExternalTasksAndPrunes(t *testing.T) {
	old := baseTime.Add(-48 * time.Hour)
	store := NewMemoryStore(
		ScheduledTask{ID: "old-sent", Sent: true, Status: StatusSent, AttemptedAt: &old},
	)
	s, _ := newTestScheduler(t, store, &recordingDeliverer{}, Config{Retention: 24 * time.Hour})
	ctx := context.Background()

	// Written by another instance after this one started.
	tasks, _ := store.Load(ctx)
	tasks = append(tasks, ScheduledTask{ID: "external", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime.Add(time.Hour), Status: StatusPending})
	_ = store.Save(ctx, tasks)

	armed, pruned, err := s.Resync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if armed != 1 || !s.Armed("external") {
		t.Errorf("expected external task armed, armed=%d", armed)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned task, got %d", pruned)
	}
	if _, err := s.Get(ctx, "old-sent"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected old task pruned, got %v", err)
	}

	// Removed elsewhere: the timer goes away on the next resync.
	_ = store.Save(ctx, nil)
	if _, _, err := s.Resync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Armed("external") {
		t.Error("timer for a removed task should be disarmed")
	}
}

func TestDeliver_ClaimedElsewhere(t *testing.T) {
	store := &claimingStore{MemoryStore: NewMemoryStore(ScheduledTask{
		ID: "t1", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime.Add(time.Minute), Status: StatusPending,
	})}
	d := &recordingDeliverer{result: delivery.Result{OK: true}}
	s, clock := newTestScheduler(t, store, d, Config{})

	if _, err := s.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Minute)

	if store.claims != 1 {
		t.Errorf("expected one claim attempt, got %d", store.claims)
	}
	if n := len(d.Requests()); n != 0 {
		t.Errorf("task claimed elsewhere was delivered %d times", n)
	}
}

func TestCancelAndDelete_BusyWhileDelivering(t *testing.T) {
	d := newBlockingDeliverer()
	s, clock := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		clock.Advance(time.Minute)
	}()
	<-d.entered

	if _, err := s.Cancel(ctx, task.ID); !errors.Is(err, ErrTaskBusy) {
		t.Errorf("expected ErrTaskBusy from cancel, got %v", err)
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, ErrTaskBusy) {
		t.Errorf("expected ErrTaskBusy from delete, got %v", err)
	}

	close(d.release)
	<-done

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Sent || got.Status != StatusSent {
		t.Errorf("expected the delivery to be recorded, got sent=%v status=%s", got.Sent, got.Status)
	}
	if _, err := s.Cancel(ctx, task.ID); !errors.Is(err, ErrTaskAlreadySent) {
		t.Errorf("expected ErrTaskAlreadySent once delivered, got %v", err)
	}
}

func TestDeliver_TaskChangedDuringDelivery(t *testing.T) {
	task := ScheduledTask{ID: "t1", Connector: delivery.ConnectorEmail, To: "a@b.c", ScheduledAt: baseTime, Status: StatusPending}
	store := NewMemoryStore(task)
	ctx := context.Background()

	// Another instance cancels the task while the connector call is running.
	d := &hookDeliverer{recordingDeliverer: recordingDeliverer{result: delivery.Result{OK: true}}}
	d.during = func() {
		tasks, _ := store.Load(ctx)
		tasks[0].Status = StatusCancelled
		_ = store.Save(ctx, tasks)
	}
	s, _ := newTestScheduler(t, store, d, Config{})

	if _, err := s.Deliver(ctx, task); !errors.Is(err, ErrTaskNotPending) {
		t.Fatalf("expected ErrTaskNotPending, got %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sent || got.Status != StatusCancelled {
		t.Errorf("stored status should be kept, got sent=%v status=%s", got.Sent, got.Status)
	}
}

func TestDeliver_UnrecordedAttemptIsNotRepeated(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	d := &recordingDeliverer{result: delivery.Result{OK: true, Status: 202}}
	s, clock := newTestScheduler(t, store, d, Config{})
	ctx := context.Background()

	task, err := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.SetFailing(true)
	clock.Advance(time.Minute)
	if n := len(d.Requests()); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}

	armed, _, err := s.Resync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if armed != 0 || s.Armed(task.ID) {
		t.Errorf("task with an unrecorded attempt was re-armed, armed=%d", armed)
	}
	if _, err := s.SendNow(ctx, task.ID); !errors.Is(err, ErrTaskAlreadySent) {
		t.Errorf("expected ErrTaskAlreadySent from send now, got %v", err)
	}
	if _, err := s.Cancel(ctx, task.ID); !errors.Is(err, ErrTaskAlreadySent) {
		t.Errorf("expected ErrTaskAlreadySent from cancel, got %v", err)
	}
	clock.Advance(time.Hour)
	if n := len(d.Requests()); n != 1 {
		t.Fatalf("attempt was repeated, %d deliveries", n)
	}

	store.SetFailing(false)
	if _, _, err := s.Resync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Sent || got.Status != StatusSent || got.DeliveryCode != 202 {
		t.Errorf("expected the attempt to be recorded, got %+v", got)
	}
	if got.AttemptedAt == nil || !got.AttemptedAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("unexpected attempted_at %v", got.AttemptedAt)
	}
	if n := len(d.Requests()); n != 1 {
		t.Errorf("expected a single delivery overall, got %d", n)
	}
}

func TestShutdown(t *testing.T) {
	d := &recordingDeliverer{}
	s, clock := newTestScheduler(t, NewMemoryStore(), d, Config{})
	ctx := context.Background()

	task, _ := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:10"})

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Armed(task.ID) {
		t.Error("shutdown should disarm timers")
	}
	clock.Advance(time.Hour)
	if n := len(d.Requests()); n != 0 {
		t.Errorf("delivered %d times after shutdown", n)
	}

	if _, err := s.Create(ctx, "owner-1", CreateTaskRequest{Connector: "email", To: "a@b.c", Message: "m", LocalDateTime: "2025-03-10T12:10"}); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeTracked {
		t.Errorf("expected tracked default, got %q %v", m, err)
	}
	if m, err := ParseMode("STRICT"); err != nil || m != ModeStrict {
		t.Errorf("expected strict, got %q %v", m, err)
	}
	if _, err := ParseMode("lenient"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
