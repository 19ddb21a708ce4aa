package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/recur"
	"visitcal/internal/store"
	"visitcal/internal/visit"
)

// visitDTO adds derived scheduling fields to a stored visit.
type visitDTO struct {
	model.VisitRecord
	NextOccurrence *time.Time `json:"next_occurrence,omitempty"`
	RRule          string     `json:"rrule,omitempty"`
}

func (s *Server) toDTO(v model.VisitRecord) visitDTO {
	dto := visitDTO{VisitRecord: v}
	base, err := v.BaseTime(s.loc)
	if err != nil {
		return dto
	}
	dto.RRule = recur.RRuleString(base, v.Recurrence)
	if v.Scheduled() {
		now := s.deps.Now()
		if next := recur.OccurrenceAtOrAfter(base, v.Recurrence, now); !next.Before(now) {
			dto.NextOccurrence = &next
		}
	}
	return dto
}

func (s *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := s.deps.Visits.List(r.Context())
	if err != nil {
		appLog.Error("visits: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load visits")
		return
	}
	out := make([]visitDTO, 0, len(visits))
	for _, v := range visits {
		out = append(out, s.toDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Visits.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeVisitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(v))
}

func (s *Server) handleCreateVisit(w http.ResponseWriter, r *http.Request) {
	var req visit.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := s.deps.Visits.Create(r.Context(), req)
	if err != nil {
		s.writeVisitError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toDTO(v))
}

func (s *Server) handleUpdateVisit(w http.ResponseWriter, r *http.Request) {
	var req visit.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := s.deps.Visits.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeVisitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(v))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := s.deps.Visits.SetStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		s.writeVisitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(v))
}

func (s *Server) handleDeleteVisit(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Visits.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeVisitError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeVisitError(w http.ResponseWriter, err error) {
	var verr *visit.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "visit not found")
	default:
		appLog.Error("visits: request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
