package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/traceplay/replayd/domain"
	"github.com/traceplay/replayd/policy"
	"github.com/traceplay/replayd/tests/helpers"
	"github.com/traceplay/replayd/vfs"
)

// fakeDeliverer records published events in order.
type fakeDeliverer struct {
	mu        sync.Mutex
	sessionID string
	resets    int
	events    []domain.DeliveredEvent
}

func (f *fakeDeliverer) Reset(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = sessionID
	f.resets++
	f.events = f.events[:0]
}

func (f *fakeDeliverer) Publish(ev domain.DeliveredEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeDeliverer) delivered() []domain.DeliveredEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DeliveredEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeDeliverer) state() (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID, f.resets
}

func newTestScheduler(t *testing.T, d Deliverer, r Recorder, e Evaluator) *Scheduler {
	t.Helper()
	s := NewScheduler(d, r, e, Options{
		TickInterval: 5 * time.Millisecond,
		GracePeriod:  10 * time.Millisecond,
	})
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitForState(t *testing.T, s *Scheduler, state domain.SessionState) domain.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Status()
		if snap.State == state {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, last: %+v", state, s.Status())
	return domain.SessionSnapshot{}
}

func immediateTrajectory(n int) domain.Trajectory {
	traj := make(domain.Trajectory, 0, n)
	for i := 0; i < n; i++ {
		traj = append(traj, domain.Event{
			Type:      domain.EventTypeFileWrite,
			Timestamp: 0,
			Index:     i,
			FilePath:  "a.go",
		})
	}
	return traj
}

func TestStartRejectsInvalidSpeed(t *testing.T) {
	s := newTestScheduler(t, &fakeDeliverer{}, nil, nil)

	for _, speed := range []float64{0, -1} {
		_, err := s.Start(StartRequest{Trajectory: immediateTrajectory(1), Speed: speed})
		if !errors.Is(err, ErrInvalidSpeed) {
			t.Fatalf("speed %v: expected ErrInvalidSpeed, got %v", speed, err)
		}
	}
}

func TestStartSingleFlight(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	// A far-future event keeps the first session RUNNING.
	traj := domain.Trajectory{{Type: domain.EventTypeFileWrite, Timestamp: 3600, FilePath: "a.go"}}
	first, err := s.Start(StartRequest{Trajectory: traj, Speed: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err = s.Start(StartRequest{Trajectory: immediateTrajectory(1), Speed: 1})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	snap := s.Status()
	if snap.SessionID != first.SessionID || snap.Cursor != 0 {
		t.Fatalf("rejected start disturbed the running session: %+v", snap)
	}
	if _, resets := d.state(); resets != 1 {
		t.Fatalf("rejected start must not reset the delivery channel")
	}
}

func TestRunToCompletion(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	traj := immediateTrajectory(3)
	start, err := s.Start(StartRequest{TrajectoryPath: "events.json", Trajectory: traj, Speed: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if start.State != domain.SessionStateRunning {
		t.Fatalf("expected RUNNING after start, got %s", start.State)
	}

	snap := waitForState(t, s, domain.SessionStateCompleted)
	if snap.Cursor != 3 || snap.TotalEvents != 3 {
		t.Fatalf("completed with cursor %d/%d", snap.Cursor, snap.TotalEvents)
	}
	if snap.EndedAt == nil {
		t.Fatalf("terminal session missing end time")
	}

	events := d.delivered()
	if len(events) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("delivery order broken: seq %d at %d", ev.Seq, i)
		}
		if ev.SessionID != start.SessionID || ev.Total != 3 {
			t.Fatalf("unexpected delivery envelope: %+v", ev)
		}
	}
}

func TestEventsNotDeliveredEarly(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	traj := domain.Trajectory{{Type: domain.EventTypeFileWrite, Timestamp: 3600, FilePath: "a.go"}}
	if _, err := s.Start(StartRequest{Trajectory: traj, Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	snap := s.Status()
	if snap.State != domain.SessionStateRunning || snap.Cursor != 0 {
		t.Fatalf("future event delivered early: %+v", snap)
	}
	if len(d.delivered()) != 0 {
		t.Fatalf("unexpected delivery")
	}
}

func TestSpeedScalesVirtualClock(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	// At speed 50 an event stamped t=1 comes due after 20ms of wall time.
	traj := domain.Trajectory{
		{Type: domain.EventTypeFileWrite, Timestamp: 1, Index: 0, FilePath: "a.go"},
		{Type: domain.EventTypeFileWrite, Timestamp: 2, Index: 1, FilePath: "b.go"},
		{Type: domain.EventTypeFileWrite, Timestamp: 2, Index: 2, FilePath: "c.go"},
	}
	start, err := s.Start(StartRequest{Trajectory: traj, Speed: 50})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitForState(t, s, domain.SessionStateCompleted)
	if snap.Cursor != 3 {
		t.Fatalf("expected all events delivered, cursor %d", snap.Cursor)
	}

	events := d.delivered()
	if len(events) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(events))
	}
	// Timing law: the last event (t=2, speed 50) comes due 40ms after start
	// and is delivered on the next 5ms tick. Never early; late only by
	// scheduling jitter.
	elapsed := events[2].SentAt.Sub(start.StartedAt)
	if elapsed < 39*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Fatalf("last delivery at %v after start, want about 40ms", elapsed)
	}
	// Ties share one due instant and keep file order.
	if events[1].Event.FilePath != "b.go" || events[2].Event.FilePath != "c.go" {
		t.Fatalf("tie order broken: %+v", events)
	}
	if events[0].SentAt.After(events[1].SentAt) {
		t.Fatalf("deliveries out of wall order")
	}
}

func TestStopCancelsAndIsIdempotent(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	traj := domain.Trajectory{{Type: domain.EventTypeFileWrite, Timestamp: 3600, FilePath: "a.go"}}
	if _, err := s.Start(StartRequest{Trajectory: traj, Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := s.Stop()
	if snap.State != domain.SessionStateCancelled {
		t.Fatalf("expected CANCELLED, got %s", snap.State)
	}

	again := s.Stop()
	if again.State != domain.SessionStateCancelled {
		t.Fatalf("second stop changed state: %s", again.State)
	}

	// Frozen clock: the virtual clock must not advance after cancellation.
	clock := s.Status().VirtualClock
	time.Sleep(20 * time.Millisecond)
	if got := s.Status().VirtualClock; got != clock {
		t.Fatalf("virtual clock advanced after cancel: %v -> %v", clock, got)
	}
}

func TestStopWithoutSessionReturnsIdle(t *testing.T) {
	s := newTestScheduler(t, &fakeDeliverer{}, nil, nil)

	snap := s.Stop()
	if snap.State != domain.SessionStateIdle {
		t.Fatalf("expected IDLE, got %s", snap.State)
	}
	if got := s.Status(); got.State != domain.SessionStateIdle {
		t.Fatalf("expected IDLE status, got %s", got.State)
	}
}

func TestRestartAfterTerminalSession(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	if _, err := s.Start(StartRequest{Trajectory: immediateTrajectory(1), Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, domain.SessionStateCompleted)

	second, err := s.Start(StartRequest{Trajectory: immediateTrajectory(2), Speed: 1})
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if sid, resets := d.state(); sid != second.SessionID || resets != 2 {
		t.Fatalf("delivery channel not reset for new session")
	}
	waitForState(t, s, domain.SessionStateCompleted)
}

func TestConflictDefaultsToDeliverWithWarning(t *testing.T) {
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, nil)

	// Reading a file the model never saw is a conflict, not a failure.
	traj := domain.Trajectory{{Type: domain.EventTypeFileRead, Timestamp: 0, Index: 0, FilePath: "ghost.go"}}
	if _, err := s.Start(StartRequest{Trajectory: traj, Model: vfs.New(), Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitForState(t, s, domain.SessionStateCompleted)
	if len(snap.Warnings) != 1 || snap.Warnings[0].Code != domain.WarningConflict {
		t.Fatalf("expected one conflict warning, got %+v", snap.Warnings)
	}
	if len(d.delivered()) != 1 {
		t.Fatalf("conflicted event should still be delivered by default")
	}
}

func TestPolicySkipWithholdsDelivery(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), `
package replay_policy

default decision = "deliver"

decision = "skip" {
	input.reason == "conflict"
}
`)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, engine)

	traj := domain.Trajectory{
		{Type: domain.EventTypeFileRead, Timestamp: 0, Index: 0, FilePath: "ghost.go"},
		{Type: domain.EventTypeFileWrite, Timestamp: 0, Index: 1, FilePath: "ok.go"},
	}
	if _, err := s.Start(StartRequest{Trajectory: traj, Model: vfs.New(), Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitForState(t, s, domain.SessionStateCompleted)
	events := d.delivered()
	if len(events) != 1 || events[0].Event.FilePath != "ok.go" {
		t.Fatalf("expected only the clean event delivered, got %+v", events)
	}
	// Delivery numbering stays dense: the skipped event consumed no seq.
	if events[0].Seq != 1 {
		t.Fatalf("expected seq 1 after a skip, got %d", events[0].Seq)
	}
	// Cursor still advances past the skipped event.
	if snap.Cursor != 2 {
		t.Fatalf("cursor should pass skipped events, got %d", snap.Cursor)
	}

	var skipped bool
	for _, w := range snap.Warnings {
		if w.Code == domain.WarningSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected skipped warning, got %+v", snap.Warnings)
	}
}

func TestPolicySkipsUnresolvedContent(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), `
package replay_policy

default decision = "deliver"

decision = "skip" {
	input.reason == "missing_blob"
}
`)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, engine)

	traj := domain.Trajectory{
		{Type: domain.EventTypeFileWrite, Timestamp: 0, Index: 0, FilePath: "a.go", ContentRef: "gone"},
		{Type: domain.EventTypeFileWrite, Timestamp: 0, Index: 1, FilePath: "b.go", ContentRef: "ok", Content: "package b"},
	}
	if _, err := s.Start(StartRequest{Trajectory: traj, Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForState(t, s, domain.SessionStateCompleted)
	events := d.delivered()
	if len(events) != 1 || events[0].Event.FilePath != "b.go" {
		t.Fatalf("expected only the hydrated event delivered, got %+v", events)
	}
	if events[0].Seq != 1 {
		t.Fatalf("expected seq 1 after a skip, got %d", events[0].Seq)
	}
}

func TestPolicyFailStopsSession(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), `
package replay_policy

default decision = "fail"
`)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, nil, engine)

	traj := domain.Trajectory{{Type: domain.EventTypeFileRead, Timestamp: 0, Index: 0, FilePath: "ghost.go"}}
	if _, err := s.Start(StartRequest{Trajectory: traj, Model: vfs.New(), Speed: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitForState(t, s, domain.SessionStateFailed)
	if snap.Error == "" {
		t.Fatalf("failed session should carry the conflict message")
	}
	if len(d.delivered()) != 0 {
		t.Fatalf("failed event must not be delivered")
	}
}

func TestWarningsSeededFromStart(t *testing.T) {
	s := newTestScheduler(t, &fakeDeliverer{}, nil, nil)

	seed := []domain.Warning{{EventIndex: -1, Code: domain.WarningManifestMissing, Message: "no manifest"}}
	snap, err := s.Start(StartRequest{Trajectory: immediateTrajectory(1), Speed: 1, Warnings: seed})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0].Code != domain.WarningManifestMissing {
		t.Fatalf("seeded warnings lost: %+v", snap.Warnings)
	}
}

func TestSchedulerPersistsSessionAndEvents(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	d := &fakeDeliverer{}
	s := newTestScheduler(t, d, st, nil)

	seed := []domain.Warning{{EventIndex: -1, Code: domain.WarningManifestMissing, Message: "no manifest"}}
	start, err := s.Start(StartRequest{
		TrajectoryPath: "events.json",
		Trajectory:     immediateTrajectory(2),
		Speed:          1,
		Warnings:       seed,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, s, domain.SessionStateCompleted)

	ctx := context.Background()
	rec, err := st.GetSession(ctx, start.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec == nil || rec.State != domain.SessionStateCompleted || rec.TotalEvents != 2 {
		t.Fatalf("unexpected session record: %+v", rec)
	}

	events, err := st.GetEvents(ctx, start.SessionID, 0, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("unexpected event records: %+v", events)
	}

	warnings, err := st.GetWarnings(ctx, start.SessionID)
	if err != nil {
		t.Fatalf("GetWarnings failed: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Code != domain.WarningManifestMissing {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
}
