// Package recur computes occurrence instants of a visit from its anchor and
// recurrence rule. Everything here is pure: no I/O, no clock reads.
//
// Monthly occurrences keep the anchor's day-of-month, hour and minute. When
// the day does not exist in a month it is clamped down to that month's last
// day (day 31 lands on Apr 30, Feb 28 or Feb 29). Seconds are always zero.
package recur

import (
	"time"

	"visitcal/internal/model"
)

// daysIn returns the number of days of month in year.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Clamp builds the instant at day/hour/minute in the given month, rounding an
// out-of-range day down to the month's last day. month may overflow
// (e.g. 13 is January of the next year).
func Clamp(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	y, m := first.Year(), first.Month()
	if last := daysIn(y, m, loc); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(y, m, day, hour, minute, 0, 0, loc)
}

// OccurrenceAtOrAfter returns the occurrence relevant at from.
//
// Once returns base unconditionally, even when it is before from; the caller
// decides whether a past visit still matters. Monthly returns the smallest
// clamped occurrence that is not before from; a from before base yields
// base, since the series starts at its anchor.
func OccurrenceAtOrAfter(base time.Time, rec model.Recurrence, from time.Time) time.Time {
	switch rec {
	case model.Monthly:
		if from.Before(base) {
			return base
		}
		loc := base.Location()
		f := from.In(loc)
		c := Clamp(f.Year(), f.Month(), base.Day(), base.Hour(), base.Minute(), loc)
		if c.Before(from) {
			// from is past this month's occurrence, so next month's is after it.
			c = Clamp(f.Year(), f.Month()+1, base.Day(), base.Hour(), base.Minute(), loc)
		}
		return c
	case model.Once:
		return base
	}
	return base
}

// OccurrenceSequence returns the occurrences for month offsets
// fromOffset..toOffset (inclusive) relative to base's own month, in
// chronological order. Once always yields [base].
func OccurrenceSequence(base time.Time, rec model.Recurrence, fromOffset, toOffset int) []time.Time {
	switch rec {
	case model.Monthly:
		if toOffset < fromOffset {
			return nil
		}
		loc := base.Location()
		out := make([]time.Time, 0, toOffset-fromOffset+1)
		for off := fromOffset; off <= toOffset; off++ {
			out = append(out, Clamp(base.Year(), base.Month()+time.Month(off), base.Day(), base.Hour(), base.Minute(), loc))
		}
		return out
	case model.Once:
		return []time.Time{base}
	}
	return []time.Time{base}
}

// Occurrences wraps OccurrenceSequence into model.Occurrence values. Index is
// the month offset for Monthly visits and 0 for Once.
func Occurrences(visitID string, base time.Time, rec model.Recurrence, fromOffset, toOffset int) []model.Occurrence {
	times := OccurrenceSequence(base, rec, fromOffset, toOffset)
	out := make([]model.Occurrence, 0, len(times))
	for i, t := range times {
		idx := 0
		if rec == model.Monthly {
			idx = fromOffset + i
		}
		out = append(out, model.Occurrence{VisitID: visitID, Instant: t, Index: idx})
	}
	return out
}
