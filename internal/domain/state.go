package domain

import "time"

// State is the accumulated view over a sequence of snapshots. The polling
// engine is its sole writer; renderers receive it by value.
type State struct {
	Snapshot     Snapshot
	PrevStatus   Status
	Transitioned bool
	FirstSeen    time.Time
	Polls        int
	LastErr      error
	Terminal     bool
}

// NewState builds the state from the first successful fetch. firstSeen is the
// client-side clock reading, used as the duration fallback until the service
// reports a start time.
func NewState(snap Snapshot, firstSeen time.Time) State {
	return State{
		Snapshot:   snap,
		PrevStatus: snap.Status,
		FirstSeen:  firstSeen,
		Polls:      1,
		Terminal:   snap.Status.Terminal(),
	}
}

// Merge folds the next snapshot into prev. Pure: no clock, no I/O. A terminal
// state is locked and returned unchanged so a stale late fetch can never
// regress the final status. Steps and variables are replaced wholesale.
func Merge(prev State, snap Snapshot) State {
	if prev.Terminal {
		return prev
	}

	next := prev
	next.Snapshot = snap
	next.PrevStatus = prev.Snapshot.Status
	next.Transitioned = prev.Snapshot.Status != snap.Status
	next.LastErr = nil
	next.Terminal = snap.Status.Terminal()

	return next
}

// WithError records a failed fetch without touching the last known snapshot.
func (s State) WithError(err error) State {
	s.LastErr = err
	return s
}

// Elapsed computes the displayed duration: completion time if known,
// otherwise now, measured from the service start time or first sighting.
func (s State) Elapsed(now time.Time) time.Duration {
	start := s.Snapshot.StartedAt
	if start.IsZero() {
		start = s.FirstSeen
	}
	end := s.Snapshot.CompletedAt
	if end.IsZero() {
		end = now
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
