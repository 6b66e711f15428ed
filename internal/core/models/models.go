package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UnknownIdentity is the sentinel label for a detected face that did not
// match any enrolled person. Observations carrying it never produce events.
const UnknownIdentity = "Unknown"

// Status is the attendance state of an identity.
type Status string

const (
	StatusIn  Status = "IN"
	StatusOut Status = "OUT"
)

// Toggle returns the opposite status. Every fresh sighting flips the state,
// there is no separate "still present" event.
func (s Status) Toggle() Status {
	if s == StatusIn {
		return StatusOut
	}
	return StatusIn
}

// Observation is one per-frame recognition result. It is ephemeral: consumed
// by the decision engine and discarded, never persisted.
type Observation struct {
	Identity   string    `json:"identity"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	// BoundingBox holds the face location in the frame (x1, y1, x2, y2), for UI overlay only.
	BoundingBox []int `json:"bounding_box,omitempty"`
}

// Known reports whether the observation matched an enrolled identity.
func (o Observation) Known() bool {
	return o.Identity != "" && o.Identity != UnknownIdentity
}

// AttendanceState is the per-identity mutable record owned by the decision
// engine. A zero LastEventTime means the identity has never produced an event.
type AttendanceState struct {
	Identity      string    `json:"identity"`
	Status        Status    `json:"status"`
	LastEventTime time.Time `json:"last_event_time"`
}

// Identity represents an enrolled person.
type Identity struct {
	gorm.Model
	Name          string         `gorm:"uniqueIndex;not null"`
	ExternalID    string         `gorm:"index"` // ID in an external HR system, if any
	EnrolledFaces []EnrolledFace `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE;"`
}

// EnrolledFace stores one reference embedding for an identity. The embedding
// vector is persisted as JSON and loaded into the in-memory catalog at startup.
type EnrolledFace struct {
	gorm.Model
	IdentityID uint           `gorm:"index;not null"`
	Embedding  datatypes.JSON `gorm:"type:json"`
	Source     string         `gorm:"index"` // where the sample came from (e.g. 'api', 'import')
	Identity   Identity       `gorm:"foreignKey:IdentityID"`
}

// AttendanceEvent is one committed attendance transition. Events are
// append-only: never mutated or deleted after commit.
type AttendanceEvent struct {
	gorm.Model
	Name       string  `gorm:"index;not null" json:"name"`
	Date       string  `gorm:"index" json:"date"` // YYYY-MM-DD
	Time       string  `json:"time"`              // HH:MM:SS
	Status     Status  `gorm:"index" json:"status"`
	Confidence float64 `json:"confidence"`
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// NewAttendanceEvent builds an event for the given transition, deriving the
// Date and Time fields from the observation timestamp.
func NewAttendanceEvent(name string, status Status, confidence float64, at time.Time) *AttendanceEvent {
	return &AttendanceEvent{
		Name:       name,
		Date:       at.Format(dateLayout),
		Time:       at.Format(timeLayout),
		Status:     status,
		Confidence: confidence,
	}
}

// EventTime reassembles the event's instant from its Date and Time fields.
// Resolution is one second, which is what the ledger format carries.
func (e *AttendanceEvent) EventTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" "+timeLayout, e.Date+" "+e.Time, loc)
}
