package recur

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"visitcal/internal/model"
)

// Rule returns the RFC 5545 recurrence set equivalent to the clamped monthly
// sequence. Unlike OccurrenceSequence it never yields instants before base.
//
// Days 29-31 use BYMONTHDAY=28..d;BYSETPOS=-1: the last listed day that exists
// in a month, which is the clamp.
func Rule(base time.Time, rec model.Recurrence) (*rrule.Set, error) {
	base = base.Truncate(time.Minute)
	set := &rrule.Set{}

	switch rec {
	case model.Once:
		set.RDate(base)
		return set, nil
	case model.Monthly:
		opt := rrule.ROption{
			Freq:    rrule.MONTHLY,
			Dtstart: base,
		}
		d := base.Day()
		if d <= 28 {
			opt.Bymonthday = []int{d}
		} else {
			for day := 28; day <= d; day++ {
				opt.Bymonthday = append(opt.Bymonthday, day)
			}
			opt.Bysetpos = []int{-1}
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, fmt.Errorf("recur: build monthly rule: %w", err)
		}
		set.RRule(r)
		return set, nil
	}
	return nil, fmt.Errorf("recur: unsupported recurrence %v", rec)
}

// Between lists occurrences from the anchor on within [start, end].
func Between(base time.Time, rec model.Recurrence, start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, nil
	}
	set, err := Rule(base, rec)
	if err != nil {
		return nil, err
	}
	return set.Between(start, end, true), nil
}

// RRuleString renders the RRULE value for a recurring visit, or "" for Once.
func RRuleString(base time.Time, rec model.Recurrence) string {
	if rec != model.Monthly {
		return ""
	}
	set, err := Rule(base, rec)
	if err != nil || set.GetRRule() == nil {
		return ""
	}
	return set.GetRRule().OrigOptions.RRuleString()
}
