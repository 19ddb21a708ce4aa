package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/recur"
)

const (
	// VisitDuration is the fixed length of every emitted event.
	VisitDuration = 60 * time.Minute

	DefaultMonths = 3
	MaxMonths     = 36

	defaultProductID    = "-//visitcal//Visit Schedule//EN"
	defaultCalendarName = "Doctor Visits"
	uidDomain           = "visitcal"
)

// uidNamespace seeds the name-based event UIDs.
var uidNamespace = uuid.MustParse("4f7f7b6c-1c2e-4f0a-9a8e-3c1d2b0e9f51")

// FeedConfig controls feed generation.
type FeedConfig struct {
	// Months is the horizon in months beyond the anchor month; clamped to
	// [0, MaxMonths].
	Months int

	// Now stamps DTSTAMP on every event. It does not filter occurrences.
	Now time.Time

	// Location interprets the wall-clock visit fields. If nil, time.Local is used.
	Location *time.Location

	// RollForward starts the horizon at the month containing Now instead of
	// the anchor month when the anchor is in the past.
	RollForward bool

	CalendarName string
	ProductID    string
}

// FeedResult is the serialized calendar plus counters for logging.
type FeedResult struct {
	Body    string
	Events  int
	Skipped []string // IDs of visits with a defective base time
}

// ClampMonths bounds a requested horizon to [0, MaxMonths].
func ClampMonths(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxMonths {
		return MaxMonths
	}
	return n
}

// BuildFeed serializes the occurrences of all scheduled visits into one
// VCALENDAR. Visits keep the order they were given in; occurrences of one
// visit are chronological. Non-scheduled visits are ignored.
func BuildFeed(visits []model.VisitRecord, cfg FeedConfig) FeedResult {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CalendarName == "" {
		cfg.CalendarName = defaultCalendarName
	}
	if cfg.ProductID == "" {
		cfg.ProductID = defaultProductID
	}
	months := ClampMonths(cfg.Months)

	cal := ical.NewCalendar()
	cal.SetProductId(cfg.ProductID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(cfg.CalendarName)
	cal.SetXWRTimezone(cfg.Location.String())

	var res FeedResult
	for _, v := range visits {
		if !v.Scheduled() {
			continue
		}
		base, err := v.BaseTime(cfg.Location)
		if err != nil {
			appLog.Error("feed: skipping visit with invalid base time", err, "visit_id", v.ID)
			res.Skipped = append(res.Skipped, v.ID)
			continue
		}

		from := 0
		if cfg.RollForward && v.Recurrence == model.Monthly {
			from = max(0, monthsBetween(base, cfg.Now.In(cfg.Location)))
		}

		for _, occ := range recur.Occurrences(v.ID, base, v.Recurrence, from, from+months) {
			addEvent(cal, v, occ, cfg.Now)
			res.Events++
		}
	}

	res.Body = cal.Serialize(ical.WithNewLineWindows)
	return res
}

// EventUID is stable for a (visit, occurrence index) pair.
func EventUID(visitID string, index int) string {
	name := visitID + "/" + strconv.Itoa(index)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@" + uidDomain
}

func addEvent(cal *ical.Calendar, v model.VisitRecord, occ model.Occurrence, now time.Time) {
	ev := cal.AddEvent(EventUID(v.ID, occ.Index))
	ev.SetDtStampTime(now.UTC())
	ev.SetStartAt(occ.Instant)
	ev.SetEndAt(occ.Instant.Add(VisitDuration))
	ev.SetSummary(Title(v))
	ev.SetDescription(Description(v))
	if v.Hospital != "" {
		ev.SetLocation(v.Hospital)
	}
	ev.SetStatus(ical.ObjectStatusConfirmed)
	ev.SetProperty(ical.ComponentProperty("X-VISIT-ID"), v.ID)
}

// Title is the one-line event summary.
func Title(v model.VisitRecord) string {
	switch {
	case v.DoctorName != "" && v.Hospital != "":
		return fmt.Sprintf("Visit: %s (%s)", v.DoctorName, v.Hospital)
	case v.DoctorName != "":
		return "Visit: " + v.DoctorName
	case v.Hospital != "":
		return "Visit: " + v.Hospital
	}
	return "Visit"
}

// Description lists the free-text fields, one per line. Escaping for the
// calendar format is left to the serializer.
func Description(v model.VisitRecord) string {
	var lines []string
	add := func(label, val string) {
		if val = strings.TrimSpace(val); val != "" {
			lines = append(lines, label+": "+val)
		}
	}
	add("Doctor", v.DoctorName)
	add("Hospital", v.Hospital)
	add("Nurse", v.Nurse)
	add("Note", v.Note)
	return strings.Join(lines, "\n")
}

// monthsBetween counts calendar months from a's month to b's month.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
