package ledger

import (
	"fmt"

	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SQLiteLedger persists events as rows in the application database. Rows are
// insert-only; nothing in the codebase updates or deletes them.
type SQLiteLedger struct {
	db *gorm.DB
}

// NewSQLite creates a ledger backed by the given GORM connection.
func NewSQLite(db *gorm.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// Append inserts one event row.
func (l *SQLiteLedger) Append(ev *models.AttendanceEvent) error {
	if err := l.db.Create(ev).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// LatestStatuses folds all events in insertion order and keeps the last
// record per identity.
func (l *SQLiteLedger) LatestStatuses() (map[string]models.AttendanceState, error) {
	var events []models.AttendanceEvent
	if err := l.db.Order("id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to read ledger events: %w", err)
	}

	states := make(map[string]models.AttendanceState)
	for i := range events {
		ev := &events[i]
		at, err := ev.EventTime(timezone.Location())
		if err != nil {
			log.Warnf("Skipping ledger row with unparseable timestamp for '%s': %v", ev.Name, err)
			continue
		}
		states[ev.Name] = models.AttendanceState{
			Identity:      ev.Name,
			Status:        ev.Status,
			LastEventTime: at,
		}
	}
	return states, nil
}

// Recent returns up to limit events, newest first.
func (l *SQLiteLedger) Recent(limit int) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	if err := l.db.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to read ledger events: %w", err)
	}
	return events, nil
}
