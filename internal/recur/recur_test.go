package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitcal/internal/model"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, utc(2025, 2, 28, 9, 0), Clamp(2025, 2, 31, 9, 0, time.UTC))
	assert.Equal(t, utc(2024, 2, 29, 9, 0), Clamp(2024, 2, 31, 9, 0, time.UTC))
	assert.Equal(t, utc(2025, 4, 30, 9, 0), Clamp(2025, 4, 31, 9, 0, time.UTC))
	assert.Equal(t, utc(2026, 1, 31, 9, 0), Clamp(2025, 13, 31, 9, 0, time.UTC))
	assert.Equal(t, utc(2025, 6, 15, 9, 0), Clamp(2025, 6, 15, 9, 0, time.UTC))
}

func TestOccurrenceAtOrAfterOnceIgnoresFrom(t *testing.T) {
	base := utc(2025, 1, 10, 8, 0)
	assert.Equal(t, base, OccurrenceAtOrAfter(base, model.Once, utc(2025, 6, 1, 0, 0)))
	assert.Equal(t, base, OccurrenceAtOrAfter(base, model.Once, utc(2024, 6, 1, 0, 0)))
}

func TestOccurrenceAtOrAfterMonthly(t *testing.T) {
	base := utc(2025, 1, 31, 9, 0)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"same month before", utc(2025, 3, 1, 0, 0), utc(2025, 3, 31, 9, 0)},
		{"exact instant", utc(2025, 3, 31, 9, 0), utc(2025, 3, 31, 9, 0)},
		{"one minute late", utc(2025, 3, 31, 9, 1), utc(2025, 4, 30, 9, 0)},
		{"clamped february", utc(2025, 2, 1, 0, 0), utc(2025, 2, 28, 9, 0)},
		{"leap february", utc(2024, 2, 10, 0, 0), utc(2024, 2, 29, 9, 0)},
		{"past february", utc(2025, 2, 28, 10, 0), utc(2025, 3, 31, 9, 0)},
		{"year wrap", utc(2025, 12, 31, 12, 0), utc(2026, 1, 31, 9, 0)},
		{"before anchor month", utc(2024, 12, 31, 8, 0), utc(2025, 1, 31, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OccurrenceAtOrAfter(base, model.Monthly, tt.from))
		})
	}
}

func TestOccurrenceAtOrAfterFutureAnchor(t *testing.T) {
	base := utc(2025, 6, 15, 9, 0)

	got := OccurrenceAtOrAfter(base, model.Monthly, utc(2025, 3, 15, 8, 50))
	assert.Equal(t, base, got)

	between, err := Between(base, model.Monthly, utc(2025, 3, 15, 8, 50), utc(2025, 3, 15, 9, 50))
	require.NoError(t, err)
	assert.Empty(t, between)
}

func TestOccurrenceAtOrAfterIsMinimalCandidate(t *testing.T) {
	for _, day := range []int{1, 15, 28, 29, 30, 31} {
		base := utc(2024, 1, day, 14, 45)
		candidates := OccurrenceSequence(base, model.Monthly, -2, 40)

		from := utc(2024, 1, 1, 0, 0)
		for i := 0; i < 24*60; i++ {
			got := OccurrenceAtOrAfter(base, model.Monthly, from)
			require.False(t, got.Before(from), "day=%d from=%s got=%s", day, from, got)

			var want time.Time
			for _, c := range candidates {
				if !c.Before(from) {
					want = c
					break
				}
			}
			require.Equal(t, want, got, "day=%d from=%s", day, from)
			from = from.Add(17*time.Hour + 13*time.Minute)
		}
	}
}

func TestOccurrenceAtOrAfterKeepsAnchorLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	base := time.Date(2025, 1, 31, 9, 0, 0, 0, loc)

	// 2025-03-31 01:00 UTC is 08:00 in Bangkok, so that day still counts.
	got := OccurrenceAtOrAfter(base, model.Monthly, utc(2025, 3, 31, 1, 0))
	assert.Equal(t, time.Date(2025, 3, 31, 9, 0, 0, 0, loc), got)
}

func TestClampingProperty(t *testing.T) {
	for _, day := range []int{29, 30, 31} {
		base := utc(2023, 1, day, 9, 30)
		for _, occ := range OccurrenceSequence(base, model.Monthly, 0, 23) {
			last := daysIn(occ.Year(), occ.Month(), time.UTC)
			if last < day {
				assert.Equal(t, last, occ.Day(), "anchor %d in %s", day, occ.Format("2006-01"))
			} else {
				assert.Equal(t, day, occ.Day())
			}
			assert.Equal(t, 9, occ.Hour())
			assert.Equal(t, 30, occ.Minute())
			assert.Zero(t, occ.Second())
		}
	}
}

func TestOccurrenceSequenceDay31(t *testing.T) {
	base := utc(2025, 1, 31, 9, 0)

	got := OccurrenceSequence(base, model.Monthly, 0, 3)
	assert.Equal(t, []time.Time{
		utc(2025, 1, 31, 9, 0),
		utc(2025, 2, 28, 9, 0),
		utc(2025, 3, 31, 9, 0),
		utc(2025, 4, 30, 9, 0),
	}, got)

	// Starting in a 31-day month with a 30-day successor.
	got = OccurrenceSequence(utc(2025, 3, 31, 9, 0), model.Monthly, 0, 2)
	assert.Equal(t, []time.Time{
		utc(2025, 3, 31, 9, 0),
		utc(2025, 4, 30, 9, 0),
		utc(2025, 5, 31, 9, 0),
	}, got)
}

func TestOccurrenceSequenceOnce(t *testing.T) {
	base := utc(2025, 5, 5, 10, 0)
	assert.Equal(t, []time.Time{base}, OccurrenceSequence(base, model.Once, 0, 12))
	assert.Equal(t, []time.Time{base}, OccurrenceSequence(base, model.Once, 3, 1))
}

func TestOccurrenceSequenceInvertedRange(t *testing.T) {
	assert.Empty(t, OccurrenceSequence(utc(2025, 5, 5, 10, 0), model.Monthly, 3, 1))
}

func TestOccurrencesIndex(t *testing.T) {
	occ := Occurrences("v1", utc(2025, 1, 31, 9, 0), model.Monthly, 1, 2)
	require.Len(t, occ, 2)
	assert.Equal(t, 1, occ[0].Index)
	assert.Equal(t, 2, occ[1].Index)
	assert.Equal(t, "v1", occ[1].VisitID)
	assert.Equal(t, utc(2025, 3, 31, 9, 0), occ[1].Instant)
}
