// Package reminder decides which visit occurrences are due for a reminder
// and sends each one at most once.
//
// There is no per-occurrence row to lock. The only durable state is the
// visit's LastNotifiedOccurrence marker, so a run sends for an occurrence
// only when the marker differs from it, and records the marker with a
// compare-and-set against the value read at the start of the run.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/notify"
	"visitcal/internal/recur"
)

const (
	DefaultWindowMinutes = 60
	MinWindowMinutes     = 1
	MaxWindowMinutes     = 1440

	defaultLockTTL = 2 * time.Minute
)

// ErrBusy is returned when another run holds the dispatch lock.
var ErrBusy = errors.New("reminder dispatch already running")

// Store is the part of the visit store the dispatcher needs.
type Store interface {
	ListScheduled(ctx context.Context) ([]model.VisitRecord, error)
	CompareAndSetMarker(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error)
}

// Locker serializes runs across processes. ok is false when the lock is held
// elsewhere.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Ledger is an append-only record of sent reminders. It never influences
// the send decision.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
}

// Entry is one sent reminder.
type Entry struct {
	VisitID    string
	Occurrence time.Time
	SentAt     time.Time
}

// Options are the optional collaborators and tunables of a Dispatcher.
type Options struct {
	// Location interprets the wall-clock visit fields. If nil, time.Local is used.
	Location    *time.Location
	SendTimeout time.Duration
	Locker      Locker
	LockTTL     time.Duration
	Ledger      Ledger
}

// Result is the aggregate outcome of one run.
type Result struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
}

// Dispatcher runs reminder passes over the scheduled visits.
type Dispatcher struct {
	store  Store
	sender notify.Sender
	gate   notify.Gate
	opts   Options

	// running keeps runs inside this process strictly sequential.
	running sync.Mutex
}

func NewDispatcher(store Store, sender notify.Sender, gate notify.Gate, opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = notify.DefaultTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if gate == nil {
		gate = notify.StaticGate(true)
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		gate:   gate,
		opts:   opts,
	}
}

// ClampWindow bounds a window in minutes to [MinWindowMinutes, MaxWindowMinutes].
func ClampWindow(minutes int) int {
	if minutes < MinWindowMinutes {
		return MinWindowMinutes
	}
	if minutes > MaxWindowMinutes {
		return MaxWindowMinutes
	}
	return minutes
}

// Run performs one pass. Only failing to list visits (or the lock backend)
// fails the run; per-visit problems are logged and counted as not sent.
func (d *Dispatcher) Run(ctx context.Context, now time.Time, window time.Duration) (Result, error) {
	if !d.running.TryLock() {
		return Result{}, ErrBusy
	}
	defer d.running.Unlock()

	if d.opts.Locker != nil {
		release, ok, err := d.opts.Locker.Acquire(ctx, d.opts.LockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("reminder lock: %w", err)
		}
		if !ok {
			return Result{}, ErrBusy
		}
		defer release()
	}

	visits, err := d.store.ListScheduled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list scheduled visits: %w", err)
	}

	var (
		res  Result
		errs error
	)
	for _, v := range visits {
		if !v.Scheduled() {
			continue
		}
		res.Checked++

		sent, err := d.process(ctx, v, now, window)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("visit %s: %w", v.ID, err))
		}
		if sent {
			res.Sent++
		}
	}

	if errs != nil {
		appLog.Error("reminder run finished with errors", errs,
			"error_count", len(multierr.Errors(errs)),
			"checked", res.Checked,
			"sent", res.Sent,
		)
	} else {
		appLog.Info("reminder run finished", "checked", res.Checked, "sent", res.Sent, "window", window.String())
	}
	return res, nil
}

// process handles one visit and reports whether a reminder was sent and
// recorded.
func (d *Dispatcher) process(ctx context.Context, v model.VisitRecord, now time.Time, window time.Duration) (bool, error) {
	base, err := v.BaseTime(d.opts.Location)
	if err != nil {
		appLog.Error("reminder: skipping visit with invalid base time", err, "visit_id", v.ID)
		return false, err
	}

	next := recur.OccurrenceAtOrAfter(base, v.Recurrence, now)
	if next.Before(now) {
		// A one-off visit that already happened.
		return false, nil
	}
	if next.After(now.Add(window)) {
		return false, nil
	}
	if v.NotifiedFor(next) {
		appLog.Debug("reminder: already notified", "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		return false, nil
	}
	if !d.gate.Enabled() {
		// Left unmarked so a later run can still send inside the window.
		appLog.Info("reminder: sending disabled, leaving unmarked", "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		return false, nil
	}

	text := Message(v, next, now)
	if err := notify.SendWithTimeout(ctx, d.sender, text, d.opts.SendTimeout); err != nil {
		appLog.Error("reminder: send failed", err, "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		return false, fmt.Errorf("send: %w", err)
	}

	swapped, err := d.store.CompareAndSetMarker(ctx, v.ID, v.LastNotifiedOccurrence, next)
	if err != nil {
		appLog.Error("reminder: sent but marker write failed", err, "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		return false, fmt.Errorf("mark: %w", err)
	}
	if !swapped {
		appLog.Info("reminder: marker changed concurrently, not counting", "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		return false, nil
	}

	appLog.Info("reminder: sent", "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))

	if d.opts.Ledger != nil {
		entry := Entry{VisitID: v.ID, Occurrence: model.MarkerTime(next), SentAt: now.UTC()}
		if err := d.opts.Ledger.Record(ctx, entry); err != nil {
			appLog.Error("reminder: ledger append failed", err, "visit_id", v.ID, "occurrence", next.Format(time.RFC3339))
		}
	}
	return true, nil
}

// Message renders the reminder text for one occurrence.
func Message(v model.VisitRecord, occurrence, now time.Time) string {
	var b strings.Builder
	b.WriteString("Reminder: doctor visit")
	if v.DoctorName != "" {
		b.WriteString(" with " + v.DoctorName)
	}
	if v.Hospital != "" {
		b.WriteString(" at " + v.Hospital)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "When: %s (in %d min)", occurrence.Format("Mon 02 Jan 2006 15:04"), minutesUntil(now, occurrence))
	if v.Nurse != "" {
		b.WriteString("\nNurse: " + v.Nurse)
	}
	if note := strings.TrimSpace(v.Note); note != "" {
		b.WriteString("\nNote: " + note)
	}
	return b.String()
}

func minutesUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d < 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
