// Package replay drives the playback of a loaded trajectory: it owns the
// virtual clock, applies due events to the virtual filesystem model, and
// pushes them to observers at the moment dictated by each event's recorded
// timestamp scaled by the session speed.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traceplay/replayd/domain"
	"github.com/traceplay/replayd/policy"
	"github.com/traceplay/replayd/vfs"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is RUNNING.
	ErrAlreadyRunning = errors.New("a replay session is already running")
	// ErrInvalidSpeed is returned by Start for a non-positive speed.
	ErrInvalidSpeed = errors.New("speed must be positive")
)

// Deliverer fans delivered events out to observers.
type Deliverer interface {
	Reset(sessionID string)
	Publish(ev domain.DeliveredEvent)
}

// Recorder persists sessions, delivered events, and warnings. Persistence
// problems during delivery fail the session; everything else degrades to a
// logged warning.
type Recorder interface {
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error
	UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState, errMsg string) error
	CreateEvent(ctx context.Context, rec *domain.EventRecord) error
	CreateWarning(ctx context.Context, sessionID string, w domain.Warning) error
}

// Evaluator decides how to react to a conflicted or content-less event.
type Evaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (string, error)
}

// Options tunes scheduler timing.
type Options struct {
	TickInterval time.Duration // delivery loop granularity
	GracePeriod  time.Duration // trailing wait before COMPLETED
}

// Scheduler runs at most one replay session at a time. All state transitions
// and reads go through one mutex, so a status call never observes a
// half-updated cursor/state pair.
type Scheduler struct {
	mu        sync.Mutex
	session   *session
	deliverer Deliverer
	recorder  Recorder
	policy    Evaluator
	tick      time.Duration
	grace     time.Duration
}

// NewScheduler creates a scheduler. recorder and eval may be nil.
func NewScheduler(deliverer Deliverer, recorder Recorder, eval Evaluator, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Scheduler{
		deliverer: deliverer,
		recorder:  recorder,
		policy:    eval,
		tick:      opts.TickInterval,
		grace:     opts.GracePeriod,
	}
}

// StartRequest carries everything a new session needs. Warnings collected
// while loading and resolving the trajectory seed the session's warning list.
type StartRequest struct {
	TrajectoryPath string
	Trajectory     domain.Trajectory
	Model          *vfs.Model
	Speed          float64
	Warnings       []domain.Warning
}

// Start creates and runs a new session. It fails with ErrAlreadyRunning when
// a session is RUNNING (single-flight, enforced atomically) and with
// ErrInvalidSpeed for speed <= 0. A terminal previous session is superseded.
func (s *Scheduler) Start(req StartRequest) (domain.SessionSnapshot, error) {
	if req.Speed <= 0 {
		return domain.SessionSnapshot{}, ErrInvalidSpeed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.state == domain.SessionStateRunning {
		return domain.SessionSnapshot{}, ErrAlreadyRunning
	}

	model := req.Model
	if model == nil {
		model = vfs.New()
	}

	now := time.Now()
	sess := &session{
		id:             "rs_" + uuid.New().String()[:8],
		trajectoryPath: req.TrajectoryPath,
		traj:           req.Trajectory,
		model:          model,
		speed:          req.Speed,
		state:          domain.SessionStateRunning,
		startWall:      now,
		warnings:       append([]domain.Warning(nil), req.Warnings...),
		stop:           make(chan struct{}),
	}
	s.session = sess

	s.deliverer.Reset(sess.id)
	if s.recorder != nil {
		rec := &domain.SessionRecord{
			SessionID:      sess.id,
			TrajectoryPath: sess.trajectoryPath,
			Speed:          sess.speed,
			State:          sess.state,
			TotalEvents:    len(sess.traj),
			StartedAt:      sess.startWall,
		}
		if err := s.recorder.CreateSession(context.Background(), rec); err != nil {
			log.Printf("WARN: failed to persist session %s: %v", sess.id, err)
		}
		for _, w := range sess.warnings {
			if err := s.recorder.CreateWarning(context.Background(), sess.id, w); err != nil {
				log.Printf("WARN: failed to persist warning: %v", err)
			}
		}
	}

	go s.run(sess)

	log.Printf("INFO: replay session %s started (%d events, speed %.2f)",
		sess.id, len(sess.traj), sess.speed)
	return sess.snapshot(now), nil
}

// Stop cancels the running session. Idempotent against a session that is not
// RUNNING. Already-delivered events and virtual filesystem state stay intact.
func (s *Scheduler) Stop() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.session == nil {
		return idleSnapshot()
	}
	if s.session.state == domain.SessionStateRunning {
		s.transitionLocked(s.session, domain.SessionStateCancelled, "")
		close(s.session.stop)
		log.Printf("INFO: replay session %s cancelled at cursor %d/%d",
			s.session.id, s.session.cursor, len(s.session.traj))
	}
	return s.session.snapshot(now)
}

// Status returns a linearizable snapshot of the current session, or an IDLE
// placeholder when none has ever started. Pure read, safe for concurrent
// callers.
func (s *Scheduler) Status() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return idleSnapshot()
	}
	return s.session.snapshot(time.Now())
}

// Model exposes the active session's virtual filesystem for read-only
// queries. Nil when no session exists.
func (s *Scheduler) Model() *vfs.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.model
}

// run is the per-session tick loop: the only place virtual time advances.
func (s *Scheduler) run(sess *session) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if done := s.tickOnce(sess); done {
				return
			}
		}
	}
}

// tickOnce drains every currently-due event, then checks for completion.
// Returns true once the session has reached a terminal state.
func (s *Scheduler) tickOnce(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A newer session or a cancellation may have superseded us between
	// ticks; the due batch below runs to completion before this check can
	// fire again.
	if s.session != sess || sess.state != domain.SessionStateRunning {
		return true
	}

	now := time.Now()
	vclock := sess.virtualClock(now)
	for sess.cursor < len(sess.traj) && sess.traj[sess.cursor].Timestamp <= vclock {
		ev := sess.traj[sess.cursor]
		if failed := s.processLocked(sess, ev); failed {
			return true
		}
		sess.cursor++
	}

	if sess.cursor == len(sess.traj) {
		if sess.drainedAt == nil {
			t := now
			sess.drainedAt = &t
		}
		if now.Sub(*sess.drainedAt) >= s.grace {
			s.transitionLocked(sess, domain.SessionStateCompleted, "")
			log.Printf("INFO: replay session %s completed (%d events)", sess.id, sess.cursor)
			return true
		}
	}
	return false
}

// processLocked applies one due event to the model and delivers it.
// Returns true when the session transitioned to FAILED.
func (s *Scheduler) processLocked(sess *session, ev domain.Event) bool {
	deliver := true
	if err := sess.model.Apply(ev); err != nil {
		var conflict *vfs.ConflictError
		if !errors.As(err, &conflict) {
			s.transitionLocked(sess, domain.SessionStateFailed, err.Error())
			log.Printf("ERROR: replay session %s failed applying event %d: %v", sess.id, ev.Index, err)
			return true
		}
		decision := s.decideLocked(sess, ev, domain.WarningConflict, conflict.Error())
		switch decision {
		case policy.DecisionFail:
			s.transitionLocked(sess, domain.SessionStateFailed, conflict.Error())
			log.Printf("ERROR: replay session %s failed by policy on event %d: %v", sess.id, ev.Index, conflict)
			return true
		case policy.DecisionSkip:
			deliver = false
			s.warnLocked(sess, domain.Warning{
				EventIndex: ev.Index,
				Code:       domain.WarningSkipped,
				Message:    "event withheld by policy: " + conflict.Error(),
			})
		}
	}

	// An unresolved content reference was already warned about by the
	// resolver; the policy still gets a say before delivery.
	if deliver && unresolvedContent(ev) {
		detail := "content reference " + ev.ContentRef + " unresolved"
		switch s.evalLocked(ev, domain.WarningMissingBlob, detail) {
		case policy.DecisionFail:
			s.transitionLocked(sess, domain.SessionStateFailed, detail)
			log.Printf("ERROR: replay session %s failed by policy on event %d: %s", sess.id, ev.Index, detail)
			return true
		case policy.DecisionSkip:
			deliver = false
			s.warnLocked(sess, domain.Warning{
				EventIndex: ev.Index,
				Code:       domain.WarningSkipped,
				Message:    "event withheld by policy: " + detail,
			})
		}
	}

	if !deliver {
		return false
	}

	// Seq is a dense 1-based delivery index: policy-skipped events never
	// consume a number, so observers see no gaps.
	seq := sess.delivered + 1
	delivered := domain.DeliveredEvent{
		SessionID: sess.id,
		Seq:       seq,
		Total:     len(sess.traj),
		Event:     ev,
		SentAt:    time.Now(),
	}
	s.deliverer.Publish(delivered)
	sess.delivered = seq

	if s.recorder != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = s.recorder.CreateEvent(context.Background(), &domain.EventRecord{
				EventID:   "evt_" + uuid.New().String()[:8],
				SessionID: sess.id,
				Seq:       seq,
				Ts:        ev.Timestamp,
				Type:      ev.Type,
				Payload:   payload,
			})
		}
		if err != nil {
			s.transitionLocked(sess, domain.SessionStateFailed, err.Error())
			log.Printf("ERROR: replay session %s failed persisting event %d: %v", sess.id, ev.Index, err)
			return true
		}
	}
	return false
}

// decideLocked consults the conflict policy and records the warning. Without
// an evaluator the documented default applies: log wins, warn and deliver.
func (s *Scheduler) decideLocked(sess *session, ev domain.Event, code domain.WarningCode, detail string) string {
	s.warnLocked(sess, domain.Warning{
		EventIndex: ev.Index,
		Code:       code,
		Message:    detail,
	})
	return s.evalLocked(ev, code, detail)
}

// evalLocked runs the policy without recording a warning.
func (s *Scheduler) evalLocked(ev domain.Event, code domain.WarningCode, detail string) string {
	if s.policy == nil {
		return policy.DecisionDeliver
	}
	decision, err := s.policy.Evaluate(context.Background(), policy.Input{
		EventType: string(ev.Type),
		Reason:    string(code),
		Path:      ev.FilePath,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("WARN: policy evaluation failed, delivering event %d: %v", ev.Index, err)
		return policy.DecisionDeliver
	}
	return decision
}

// unresolvedContent reports a write/edit whose content reference never
// resolved against the blob manifest.
func unresolvedContent(ev domain.Event) bool {
	if ev.Type != domain.EventTypeFileWrite && ev.Type != domain.EventTypeFileEdit {
		return false
	}
	return ev.ContentRef != "" && ev.Content == ""
}

func (s *Scheduler) warnLocked(sess *session, w domain.Warning) {
	sess.warnings = append(sess.warnings, w)
	log.Printf("WARN: replay session %s event %d: %s: %s", sess.id, w.EventIndex, w.Code, w.Message)
	if s.recorder != nil {
		if err := s.recorder.CreateWarning(context.Background(), sess.id, w); err != nil {
			log.Printf("WARN: failed to persist warning: %v", err)
		}
	}
}

// transitionLocked moves the session into a terminal state and freezes its
// virtual clock.
func (s *Scheduler) transitionLocked(sess *session, state domain.SessionState, errMsg string) {
	now := time.Now()
	sess.state = state
	sess.endWall = &now
	sess.err = errMsg
	if s.recorder != nil {
		if err := s.recorder.UpdateSessionState(context.Background(), sess.id, state, errMsg); err != nil {
			log.Printf("WARN: failed to persist session state %s: %v", state, err)
		}
	}
}

func idleSnapshot() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		State:    domain.SessionStateIdle,
		Speed:    0,
		Warnings: []domain.Warning{},
	}
}
