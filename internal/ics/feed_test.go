package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitcal/internal/model"
)

var feedNow = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func parseFeed(t *testing.T, body string) *ical.Calendar {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	require.NoError(t, err)
	return cal
}

func monthlyVisit(id, date string) model.VisitRecord {
	return model.VisitRecord{
		ID:         id,
		DoctorName: "Dr Somchai",
		Hospital:   "Siriraj",
		Date:       date,
		Time:       "09:00",
		Status:     model.StatusScheduled,
		Recurrence: model.Monthly,
	}
}

func TestBuildFeedDay31Horizon3(t *testing.T) {
	res := BuildFeed([]model.VisitRecord{monthlyVisit("v1", "2025-01-31")}, FeedConfig{
		Months:   3,
		Now:      feedNow,
		Location: time.UTC,
	})
	assert.Equal(t, 4, res.Events)
	assert.Empty(t, res.Skipped)

	cal := parseFeed(t, res.Body)
	events := cal.Events()
	require.Len(t, events, 4)

	want := []time.Time{
		time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 30, 9, 0, 0, 0, time.UTC),
	}
	seen := map[string]bool{}
	for i, ev := range events {
		start, err := ev.GetStartAt()
		require.NoError(t, err)
		end, err := ev.GetEndAt()
		require.NoError(t, err)

		assert.True(t, want[i].Equal(start), "event %d start %s", i, start)
		assert.Equal(t, VisitDuration, end.Sub(start))
		assert.Equal(t, EventUID("v1", i), ev.Id())
		assert.False(t, seen[ev.Id()], "duplicate uid %s", ev.Id())
		seen[ev.Id()] = true

		status := ev.GetProperty(ical.ComponentPropertyStatus)
		require.NotNil(t, status)
		assert.Equal(t, "CONFIRMED", status.Value)
	}
}

func TestBuildFeedOnceAndOrdering(t *testing.T) {
	once := model.VisitRecord{
		ID:         "v-once",
		DoctorName: "Dr Anan",
		Date:       "2025-02-10",
		Time:       "13:30",
		Status:     model.StatusScheduled,
		Recurrence: model.Once,
	}
	res := BuildFeed([]model.VisitRecord{once, monthlyVisit("v-monthly", "2025-01-05")}, FeedConfig{
		Months:   1,
		Now:      feedNow,
		Location: time.UTC,
	})
	require.Equal(t, 3, res.Events)

	events := parseFeed(t, res.Body).Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventUID("v-once", 0), events[0].Id())
	assert.Equal(t, EventUID("v-monthly", 0), events[1].Id())
	assert.Equal(t, EventUID("v-monthly", 1), events[2].Id())
}

func TestBuildFeedSkipsDefectsAndNonScheduled(t *testing.T) {
	bad := monthlyVisit("bad", "2025-13-45")
	done := monthlyVisit("done", "2025-01-05")
	done.Status = model.StatusDone

	res := BuildFeed([]model.VisitRecord{bad, done, monthlyVisit("ok", "2025-01-05")}, FeedConfig{
		Months:   0,
		Now:      feedNow,
		Location: time.UTC,
	})
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, []string{"bad"}, res.Skipped)
}

func TestBuildFeedEscapesText(t *testing.T) {
	v := monthlyVisit("v1", "2025-01-05")
	v.Hospital = "Ramathibodi, Bangkok"
	v.Note = "fast; no water"

	res := BuildFeed([]model.VisitRecord{v}, FeedConfig{Months: 0, Now: feedNow, Location: time.UTC})
	unfolded := strings.ReplaceAll(res.Body, "\r\n ", "")

	assert.Contains(t, unfolded, `LOCATION:Ramathibodi\, Bangkok`)
	assert.Contains(t, unfolded, `fast\; no water`)
	assert.Contains(t, unfolded, `\n`)
}

func TestBuildFeedEscapesBackslash(t *testing.T) {
	v := monthlyVisit("v1", "2025-01-05")
	v.DoctorName = `Dr A\B`

	res := BuildFeed([]model.VisitRecord{v}, FeedConfig{Months: 0, Now: feedNow, Location: time.UTC})
	unfolded := strings.ReplaceAll(res.Body, "\r\n ", "")
	assert.Contains(t, unfolded, `SUMMARY:Visit: Dr A\\B`)

	events := parseFeed(t, res.Body).Events()
	require.Len(t, events, 1)
	assert.Equal(t, `Visit: Dr A\B (`+v.Hospital+`)`, events[0].GetProperty(ical.ComponentPropertySummary).Value)
}

func TestBuildFeedUsesCRLFAndFolds(t *testing.T) {
	v := monthlyVisit("v1", "2025-01-05")
	v.Note = strings.Repeat("bring the previous lab results ", 8)

	res := BuildFeed([]model.VisitRecord{v}, FeedConfig{Months: 0, Now: feedNow, Location: time.UTC})
	require.True(t, strings.HasSuffix(res.Body, "END:VCALENDAR\r\n"))

	lines := strings.Split(strings.TrimSuffix(res.Body, "\r\n"), "\r\n")
	folded := 0
	for _, line := range lines {
		assert.NotContains(t, line, "\n")
		assert.LessOrEqual(t, len(line), 75)
		if strings.HasPrefix(line, " ") {
			folded++
		}
	}
	assert.Positive(t, folded)

	unfolded := strings.ReplaceAll(res.Body, "\r\n ", "")
	assert.Contains(t, unfolded, strings.TrimSpace(v.Note))
}

func TestBuildFeedCalendarHeaders(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	res := BuildFeed(nil, FeedConfig{Now: feedNow, Location: loc, CalendarName: "Mom visits"})
	assert.Contains(t, res.Body, "BEGIN:VCALENDAR")
	assert.Contains(t, res.Body, "X-WR-CALNAME:Mom visits")
	assert.Contains(t, res.Body, "X-WR-TIMEZONE:Asia/Bangkok")
	assert.Contains(t, res.Body, "METHOD:PUBLISH")
	assert.Zero(t, res.Events)
}

func TestBuildFeedRollForward(t *testing.T) {
	v := monthlyVisit("v1", "2024-10-31")
	res := BuildFeed([]model.VisitRecord{v}, FeedConfig{
		Months:      1,
		Now:         feedNow,
		Location:    time.UTC,
		RollForward: true,
	})
	require.Equal(t, 2, res.Events)

	events := parseFeed(t, res.Body).Events()
	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC).Equal(start))
	assert.Equal(t, EventUID("v1", 3), events[0].Id())
}

func TestClampMonths(t *testing.T) {
	assert.Equal(t, 0, ClampMonths(-4))
	assert.Equal(t, 12, ClampMonths(12))
	assert.Equal(t, MaxMonths, ClampMonths(500))
}

func TestTitleAndDescription(t *testing.T) {
	v := model.VisitRecord{DoctorName: "Dr A", Hospital: "H", Nurse: "N", Note: " "}
	assert.Equal(t, "Visit: Dr A (H)", Title(v))
	assert.Equal(t, "Doctor: Dr A\nHospital: H\nNurse: N", Description(v))
	assert.Equal(t, "Visit", Title(model.VisitRecord{}))
}
