// Package ledger provides the durable, append-only store of attendance
// events. Two backends exist: a CSV file (the canonical interchange format)
// and SQLite. Both reconstruct per-identity state on restart.
package ledger

import (
	"errors"

	"timekeeper-go/internal/core/models"
)

// ErrWriteFailed indicates a durable append failed. The in-memory state
// transition has already committed by the time this surfaces; callers retry
// the write rather than roll back (at-least-once append semantics).
var ErrWriteFailed = errors.New("ledger write failed")

// Columns is the persisted record layout, in order.
var Columns = []string{"Name", "Date", "Time", "Status", "Confidence"}

// Ledger is the durable append-only store of attendance events.
type Ledger interface {
	// Append writes one event. Records are never reordered or coalesced, and
	// each append is a whole-record write. Failures wrap ErrWriteFailed.
	Append(ev *models.AttendanceEvent) error

	// LatestStatuses returns the most recent status per identity, used to
	// rebuild the decision engine's state after a restart.
	LatestStatuses() (map[string]models.AttendanceState, error)

	// Recent returns up to limit events, newest first.
	Recent(limit int) ([]models.AttendanceEvent, error)
}
