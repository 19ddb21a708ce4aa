// Package visit is the editing path for visit records: create, edit,
// status transitions and deletion.
package visit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/store"
)

// Request is the body of a create or update call.
type Request struct {
	DoctorName string `json:"doctor_name" validate:"required,max=200"`
	Hospital   string `json:"hospital" validate:"required,max=200"`
	Nurse      string `json:"nurse" validate:"max=200"`
	Note       string `json:"note" validate:"max=2000"`
	Date       string `json:"date" validate:"required,visitdate"`
	Time       string `json:"time" validate:"required,visittime"`
	Recurrence string `json:"recurrence" validate:"omitempty,oneof=once monthly"`
	Status     string `json:"status" validate:"omitempty,oneof=scheduled done cancelled"`
}

// ValidationError wraps request validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid visit: " + strings.Join(parts, ", ")
}

// Options tune the editing behavior.
type Options struct {
	// ResetMarkerOnReschedule clears LastNotifiedOccurrence when an edit
	// changes the date, time or recurrence. Off keeps the marker.
	ResetMarkerOnReschedule bool
}

// Service applies edits to the visit store.
type Service struct {
	store    store.VisitStore
	opts     Options
	validate *validator.Validate
}

func NewService(s store.VisitStore, opts Options) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields under the names clients send.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("visitdate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(model.DateLayout, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("visittime", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(model.TimeLayout, fl.Field().String())
		return err == nil
	})
	return &Service{store: s, opts: opts, validate: v}
}

func (s *Service) List(ctx context.Context) ([]model.VisitRecord, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.VisitRecord, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, req Request) (model.VisitRecord, error) {
	v, err := s.fromRequest(req)
	if err != nil {
		return model.VisitRecord{}, err
	}
	if v.Status == "" {
		v.Status = model.StatusScheduled
	}
	created, err := s.store.Create(ctx, v)
	if err != nil {
		return model.VisitRecord{}, fmt.Errorf("create visit: %w", err)
	}
	appLog.Info("visit created", "visit_id", created.ID, "recurrence", created.Recurrence.String())
	return created, nil
}

// Update replaces the editable fields of visit id.
func (s *Service) Update(ctx context.Context, id string, req Request) (model.VisitRecord, error) {
	next, err := s.fromRequest(req)
	if err != nil {
		return model.VisitRecord{}, err
	}
	old, err := s.store.Get(ctx, id)
	if err != nil {
		return model.VisitRecord{}, err
	}
	next.ID = id
	if next.Status == "" {
		next.Status = old.Status
	}

	updated, err := s.store.Update(ctx, next)
	if err != nil {
		return model.VisitRecord{}, fmt.Errorf("update visit: %w", err)
	}

	if rescheduled(old, updated) && updated.LastNotifiedOccurrence != nil {
		if !s.opts.ResetMarkerOnReschedule {
			appLog.Info("visit rescheduled, keeping reminder marker", "visit_id", id,
				"marker", updated.LastNotifiedOccurrence.Format(time.RFC3339))
			return updated, nil
		}
		if err := s.store.ClearMarker(ctx, id); err != nil {
			return model.VisitRecord{}, fmt.Errorf("clear reminder marker: %w", err)
		}
		updated.LastNotifiedOccurrence = nil
		appLog.Info("visit rescheduled, reminder marker cleared", "visit_id", id)
	}
	return updated, nil
}

// SetStatus moves a visit between scheduled, done and cancelled.
func (s *Service) SetStatus(ctx context.Context, id, status string) (model.VisitRecord, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.VisitRecord{}, &ValidationError{Fields: map[string]string{"status": err.Error()}}
	}
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return model.VisitRecord{}, err
	}
	v.Status = st
	return s.store.Update(ctx, v)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	appLog.Info("visit deleted", "visit_id", id)
	return nil
}

func (s *Service) fromRequest(req Request) (model.VisitRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return model.VisitRecord{}, &ValidationError{Fields: fields}
		}
		return model.VisitRecord{}, err
	}
	rec, err := model.ParseRecurrence(req.Recurrence)
	if err != nil {
		return model.VisitRecord{}, &ValidationError{Fields: map[string]string{"recurrence": err.Error()}}
	}
	v := model.VisitRecord{
		DoctorName: strings.TrimSpace(req.DoctorName),
		Hospital:   strings.TrimSpace(req.Hospital),
		Nurse:      strings.TrimSpace(req.Nurse),
		Note:       req.Note,
		Date:       req.Date,
		Time:       req.Time,
		Recurrence: rec,
	}
	if req.Status != "" {
		v.Status = model.Status(req.Status)
	}
	return v, nil
}

func rescheduled(old, next model.VisitRecord) bool {
	return old.Date != next.Date || old.Time != next.Time || old.Recurrence != next.Recurrence
}
