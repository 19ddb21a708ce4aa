// Package alert lists upcoming visit occurrences for a day window.
package alert

import (
	"sort"
	"time"

	"github.com/google/uuid"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/recur"
)

const (
	DefaultDays = 7
	MaxDays     = 90
)

var alertNamespace = uuid.MustParse("b3c1e0a2-58d4-4c35-8f0e-6a9d7e2f4b10")

// ClampDays bounds a requested window to [0, MaxDays].
func ClampDays(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxDays {
		return MaxDays
	}
	return n
}

// Build returns alerts for occurrences whose local date falls between today
// and today+days (inclusive), ordered by occurrence instant.
func Build(visits []model.VisitRecord, now time.Time, days int, loc *time.Location) []model.VisitAlert {
	if loc == nil {
		loc = time.Local
	}
	days = ClampDays(days)

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := today.AddDate(0, 0, days+1).Add(-time.Nanosecond)

	alerts := make([]model.VisitAlert, 0)
	for _, v := range visits {
		if !v.Scheduled() {
			continue
		}
		base, err := v.BaseTime(loc)
		if err != nil {
			appLog.Error("alerts: skipping visit with invalid base time", err, "visit_id", v.ID)
			continue
		}
		occs, err := recur.Between(base, v.Recurrence, today, end)
		if err != nil {
			appLog.Error("alerts: recurrence expansion failed", err, "visit_id", v.ID)
			continue
		}
		for _, occ := range occs {
			alerts = append(alerts, model.VisitAlert{
				ID:                uuid.NewSHA1(alertNamespace, []byte(v.ID+"/"+occ.UTC().Format(time.RFC3339))).String(),
				SourceVisitID:     v.ID,
				DoctorName:        v.DoctorName,
				Hospital:          v.Hospital,
				Nurse:             v.Nurse,
				OccurrenceInstant: occ,
				DayOffset:         dayOffset(today, occ.In(loc)),
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].OccurrenceInstant.Before(alerts[j].OccurrenceInstant)
	})
	return alerts
}

// dayOffset counts calendar days from today to t's date; DST-safe because
// both dates are rebuilt at UTC midnight.
func dayOffset(today, t time.Time) int {
	a := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
