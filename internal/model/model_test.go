package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	v := VisitRecord{Date: "2025-01-31", Time: "09:30"}
	got, err := v.BaseTime(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 9, 30, 0, 0, loc), got)
}

func TestBaseTimeDefect(t *testing.T) {
	cases := []VisitRecord{
		{Date: "31/01/2025", Time: "09:30"},
		{Date: "2025-01-31", Time: "9.30am"},
		{Date: "", Time: ""},
	}
	for _, v := range cases {
		_, err := v.BaseTime(time.UTC)
		assert.True(t, errors.Is(err, ErrInvalidBaseTime), "date=%q time=%q", v.Date, v.Time)
	}
}

func TestNotifiedForSecondGranularity(t *testing.T) {
	occ := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)
	marker := occ.Add(400 * time.Millisecond)
	v := VisitRecord{LastNotifiedOccurrence: &marker}

	assert.True(t, v.NotifiedFor(occ))
	assert.False(t, v.NotifiedFor(occ.Add(time.Minute)))
	assert.False(t, VisitRecord{}.NotifiedFor(occ))
}

func TestRecurrenceText(t *testing.T) {
	var r Recurrence
	require.NoError(t, json.Unmarshal([]byte(`"Monthly"`), &r))
	assert.Equal(t, Monthly, r)

	b, err := json.Marshal(Once)
	require.NoError(t, err)
	assert.JSONEq(t, `"once"`, string(b))

	_, err = ParseRecurrence("weekly")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, s)

	_, err = ParseStatus("postponed")
	assert.Error(t, err)
}
