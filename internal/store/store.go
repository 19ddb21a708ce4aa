// Package store holds the visit storage collaborator and its backends.
package store

import (
	"context"
	"errors"
	"time"

	"visitcal/internal/model"
)

var ErrNotFound = errors.New("visit not found")

// VisitStore is the persistence contract the scheduler relies on.
//
// ListScheduled returns visits with status scheduled ordered by date then
// time. CompareAndSetMarker writes next as the last notified occurrence only
// if the stored marker still equals expected (nil meaning unset); it reports
// whether the write happened. Update never touches the marker; ClearMarker
// is the only way for the editing path to reset it.
type VisitStore interface {
	ListScheduled(ctx context.Context) ([]model.VisitRecord, error)
	List(ctx context.Context) ([]model.VisitRecord, error)
	Get(ctx context.Context, id string) (model.VisitRecord, error)
	Create(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error)
	Update(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error)
	Delete(ctx context.Context, id string) error
	CompareAndSetMarker(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error)
	ClearMarker(ctx context.Context, id string) error
	Close() error
}

// markersEqual compares two optional markers at marker granularity.
func markersEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return model.MarkerTime(*a).Equal(model.MarkerTime(*b))
}
