package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Wall-clock layouts used for the stored base time fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Status is the lifecycle state of a visit.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts the stored spelling, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusScheduled:
		return StatusScheduled, nil
	case StatusDone:
		return StatusDone, nil
	case StatusCancelled:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Recurrence is a closed set of repeat rules. The zero value is Once.
type Recurrence int

const (
	Once Recurrence = iota
	Monthly
)

func (r Recurrence) String() string {
	switch r {
	case Once:
		return "once"
	case Monthly:
		return "monthly"
	}
	return fmt.Sprintf("Recurrence(%d)", int(r))
}

// ParseRecurrence maps a stored string to a Recurrence. An empty value is Once.
func ParseRecurrence(s string) (Recurrence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "once", "none":
		return Once, nil
	case "monthly":
		return Monthly, nil
	}
	return Once, fmt.Errorf("unknown recurrence %q", s)
}

func (r Recurrence) MarshalText() ([]byte, error) {
	switch r {
	case Once, Monthly:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("invalid recurrence %d", int(r))
}

func (r *Recurrence) UnmarshalText(b []byte) error {
	v, err := ParseRecurrence(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ErrInvalidBaseTime marks a visit whose stored date/time cannot be parsed.
var ErrInvalidBaseTime = errors.New("invalid visit base time")

// VisitRecord is the unit of scheduling.
type VisitRecord struct {
	ID string `json:"id"`

	DoctorName string `json:"doctor_name"`
	Hospital   string `json:"hospital"`
	Nurse      string `json:"nurse,omitempty"`
	Note       string `json:"note,omitempty"`

	// Date (YYYY-MM-DD) and Time (HH:MM) are wall-clock fields; the anchor
	// instant depends on the location they are read in.
	Date string `json:"date"`
	Time string `json:"time"`

	Status     Status     `json:"status"`
	Recurrence Recurrence `json:"recurrence"`

	// LastNotifiedOccurrence is written only by the reminder dispatcher.
	// Always UTC, truncated to the second.
	LastNotifiedOccurrence *time.Time `json:"last_notified_occurrence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BaseTime returns the anchor instant of the visit in loc.
func (v VisitRecord) BaseTime(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(v.Date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidBaseTime, v.Date, err)
	}
	clock, err := time.Parse(TimeLayout, strings.TrimSpace(v.Time))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q: %v", ErrInvalidBaseTime, v.Time, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Scheduled reports whether the visit takes part in feeds and reminders.
func (v VisitRecord) Scheduled() bool {
	return v.Status == StatusScheduled
}

// NotifiedFor reports whether the marker already covers occurrence.
func (v VisitRecord) NotifiedFor(occurrence time.Time) bool {
	if v.LastNotifiedOccurrence == nil {
		return false
	}
	return MarkerTime(*v.LastNotifiedOccurrence).Equal(MarkerTime(occurrence))
}

// MarkerTime normalizes an instant to the marker granularity.
func MarkerTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Occurrence is one concrete instant of a visit. Never persisted.
type Occurrence struct {
	VisitID string
	Instant time.Time
	// Index is the month offset from the anchor (0 for Once).
	Index int
}

// VisitAlert is an upcoming occurrence shown to a caller.
type VisitAlert struct {
	ID                string    `json:"id"`
	SourceVisitID     string    `json:"source_visit_id"`
	DoctorName        string    `json:"doctor_name"`
	Hospital          string    `json:"hospital"`
	Nurse             string    `json:"nurse,omitempty"`
	OccurrenceInstant time.Time `json:"occurrence"`
	DayOffset         int       `json:"day_offset"`
}
