// Package attendance holds the decision engine that turns noisy per-frame
// identity observations into a de-duplicated log of IN/OUT transitions.
package attendance

import (
	"fmt"
	"sync"
	"time"

	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/ledger"

	log "github.com/sirupsen/logrus"
)

// Config holds the decision thresholds.
type Config struct {
	// Threshold is the minimum confidence for an observation to be considered.
	Threshold float64
	// Cooldown suppresses repeat events for the same identity within this
	// window after a committed transition.
	Cooldown time.Duration
}

// Engine owns the per-identity attendance state. All mutation happens here;
// the ledger is a derived, append-only view. Evaluate calls are serialized
// by an internal mutex so concurrent observations of the same identity can
// never both read a stale status.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	ledger ledger.Ledger
	states map[string]models.AttendanceState

	// pending holds events whose durable append failed. The state transition
	// is already committed in memory; these are retried in order before any
	// newer append (at-least-once semantics, never rolled back).
	pending []*models.AttendanceEvent
}

// NewEngine builds an engine, reconstructing per-identity state from the
// ledger's latest record per identity.
func NewEngine(cfg Config, led ledger.Ledger) (*Engine, error) {
	states, err := led.LatestStatuses()
	if err != nil {
		return nil, fmt.Errorf("failed to restore attendance state from ledger: %w", err)
	}
	// An empty ledger may legitimately come back as a nil map.
	if states == nil {
		states = make(map[string]models.AttendanceState)
	}
	if len(states) > 0 {
		log.Infof("Restored attendance state for %d identities from ledger", len(states))
	}
	return &Engine{
		cfg:    cfg,
		ledger: led,
		states: states,
	}, nil
}

// Evaluate decides whether one observation commits a new attendance event.
//
// It returns (nil, nil) when the observation is ignored: unknown identity,
// confidence below threshold, or inside the cooldown window of the identity's
// last event. Otherwise it toggles the identity's status, commits the state
// transition and appends the event to the ledger.
//
// When the ledger append fails, the returned event is still non-nil and the
// in-memory transition stays committed; the event is queued and retried on
// the next opportunity. The error wraps ledger.ErrWriteFailed in that case.
func (e *Engine) Evaluate(obs models.Observation) (*models.AttendanceEvent, error) {
	if !obs.Known() || obs.Confidence < e.cfg.Threshold {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[obs.Identity]
	if ok && !st.LastEventTime.IsZero() && obs.Timestamp.Sub(st.LastEventTime) < e.cfg.Cooldown {
		// Duplicate of a very recent sighting; no state change, no event.
		log.Debugf("Cooldown suppressed observation of '%s' (%s since last event)",
			obs.Identity, obs.Timestamp.Sub(st.LastEventTime))
		return nil, nil
	}

	// Absent state means implicit OUT with no prior event.
	current := models.StatusOut
	if ok {
		current = st.Status
	}
	next := current.Toggle()

	ev := models.NewAttendanceEvent(obs.Identity, next, obs.Confidence, obs.Timestamp)

	// State update and event construction are atomic under the engine lock.
	e.states[obs.Identity] = models.AttendanceState{
		Identity:      obs.Identity,
		Status:        next,
		LastEventTime: obs.Timestamp,
	}

	log.Infof("Attendance: %s -> %s (confidence %.2f)", obs.Identity, next, obs.Confidence)

	if err := e.appendLocked(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// appendLocked drains any pending writes in order, then appends ev. Ordering
// matters: per-identity event order in the ledger must match decision order.
func (e *Engine) appendLocked(ev *models.AttendanceEvent) error {
	if err := e.drainPendingLocked(); err != nil {
		e.pending = append(e.pending, ev)
		return fmt.Errorf("event for '%s' queued behind %d pending writes: %w", ev.Name, len(e.pending)-1, err)
	}

	if err := e.ledger.Append(ev); err != nil {
		e.pending = append(e.pending, ev)
		log.Errorf("Ledger append failed for '%s', queued for retry: %v", ev.Name, err)
		return err
	}
	return nil
}

func (e *Engine) drainPendingLocked() error {
	for len(e.pending) > 0 {
		if err := e.ledger.Append(e.pending[0]); err != nil {
			return err
		}
		log.Infof("Retried ledger append for '%s' succeeded", e.pending[0].Name)
		e.pending = e.pending[1:]
	}
	return nil
}

// FlushPending retries any queued ledger writes. Safe to call periodically.
func (e *Engine) FlushPending() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainPendingLocked()
}

// PendingWrites returns the number of events awaiting a durable append.
func (e *Engine) PendingWrites() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// State returns the current attendance state of one identity. The second
// return value is false for identities that never produced an event, which
// are implicitly OUT.
func (e *Engine) State(identity string) (models.AttendanceState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[identity]
	return st, ok
}

// States returns a copy of all per-identity states.
func (e *Engine) States() map[string]models.AttendanceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.AttendanceState, len(e.states))
	for k, v := range e.states {
		out[k] = v
	}
	return out
}
