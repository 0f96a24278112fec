package replay

import (
	"time"

	"github.com/traceplay/replayd/domain"
	"github.com/traceplay/replayd/vfs"
)

// session is the single live replay instance. It is owned by the Scheduler
// and only touched under the Scheduler's lock.
type session struct {
	id             string
	trajectoryPath string
	traj           domain.Trajectory
	model          *vfs.Model
	speed          float64
	state          domain.SessionState
	cursor         int
	delivered      int // count of events actually pushed; skipped events do not count
	startWall      time.Time
	endWall        *time.Time
	drainedAt      *time.Time // when cursor first reached total
	warnings       []domain.Warning
	err            string
	stop           chan struct{}
}

// virtualClock derives trajectory time from wall time and speed. It is
// recomputed on demand rather than accumulated per tick, so irregular
// scheduling granularity cannot drift it.
func (s *session) virtualClock(now time.Time) float64 {
	ref := now
	if s.endWall != nil {
		ref = *s.endWall
	}
	return ref.Sub(s.startWall).Seconds() * s.speed
}

// snapshot builds the externally visible view of the session.
func (s *session) snapshot(now time.Time) domain.SessionSnapshot {
	warnings := make([]domain.Warning, len(s.warnings))
	copy(warnings, s.warnings)
	return domain.SessionSnapshot{
		SessionID:      s.id,
		State:          s.state,
		TrajectoryPath: s.trajectoryPath,
		Speed:          s.speed,
		VirtualClock:   s.virtualClock(now),
		Cursor:         s.cursor,
		TotalEvents:    len(s.traj),
		StartedAt:      s.startWall,
		EndedAt:        s.endWall,
		Error:          s.err,
		Warnings:       warnings,
	}
}
