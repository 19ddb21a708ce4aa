package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"visitcal/internal/alert"
	"visitcal/internal/config"
	"visitcal/internal/ics"
	appLog "visitcal/internal/log"
	"visitcal/internal/model"
	"visitcal/internal/reminder"
	"visitcal/internal/store"
	"visitcal/internal/visit"
)

// Dispatcher runs one reminder pass.
type Dispatcher interface {
	Run(ctx context.Context, now time.Time, window time.Duration) (reminder.Result, error)
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Store      store.VisitStore
	Dispatcher Dispatcher
	Visits     *visit.Service
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the calendar feed, reminder dispatch and visit APIs.
type Server struct {
	cfg  *config.Config
	loc  *time.Location
	deps Deps
	mux  *chi.Mux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:  cfg,
		loc:  ResolveLocationOrLocal(cfg.Timezone),
		deps: deps,
		mux:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/calendar.ics", s.handleCalendar)
	r.Post("/api/reminders/dispatch", s.handleDispatch)
	r.Get("/api/alerts", s.handleAlerts)

	r.Route("/api/visits", func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuthMiddleware)
		}
		r.Get("/", s.handleListVisits)
		r.Post("/", s.handleCreateVisit)
		r.Get("/{id}", s.handleGetVisit)
		r.Put("/{id}", s.handleUpdateVisit)
		r.Put("/{id}/status", s.handleSetStatus)
		r.Delete("/{id}", s.handleDeleteVisit)
	})
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves all scheduled visits as an iCalendar document.
//
// GET /calendar.ics?months=3
//   - months: horizon beyond the anchor month, clamped to [0, 36]
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	months := ics.ClampMonths(parseIntDefault(r.URL.Query().Get("months"), s.cfg.Feed.DefaultMonths))

	visits, err := s.deps.Store.ListScheduled(r.Context())
	if err != nil {
		appLog.Error("calendar: list visits failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load visits")
		return
	}

	res := ics.BuildFeed(visits, ics.FeedConfig{
		Months:       months,
		Now:          s.deps.Now(),
		Location:     s.loc,
		RollForward:  s.cfg.Feed.RollForward,
		CalendarName: s.cfg.Feed.CalendarName,
	})
	appLog.Info("calendar feed built", "visits", len(visits), "events", res.Events, "skipped", len(res.Skipped), "months", months)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="visits.ics"`)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Body))
}

// dispatchRequest is the optional JSON body of the dispatch call.
type dispatchRequest struct {
	Secret  string `json:"secret"`
	Minutes *int   `json:"minutes"`
}

// handleDispatch runs one reminder pass.
//
// POST /api/reminders/dispatch?minutes=60
//   - minutes: lookahead window, clamped to [1, 1440]
//
// Authorization is checked before any visit is read.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body := readDispatchBody(r)
	if !s.authorizeDispatch(r, body.Secret) {
		appLog.Info("reminder dispatch rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	minutes := s.cfg.Reminder.WindowMinutes
	if body.Minutes != nil {
		minutes = *body.Minutes
	}
	if q := r.URL.Query().Get("minutes"); q != "" {
		minutes = parseIntDefault(q, minutes)
	}
	minutes = reminder.ClampWindow(minutes)

	res, err := s.deps.Dispatcher.Run(r.Context(), s.deps.Now(), time.Duration(minutes)*time.Minute)
	if err != nil {
		if errors.Is(err, reminder.ErrBusy) {
			writeError(w, http.StatusConflict, "dispatch already running")
			return
		}
		appLog.Error("reminder dispatch failed", err, "minutes", minutes)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func readDispatchBody(r *http.Request) dispatchRequest {
	var body dispatchRequest
	if r.Body == nil || r.ContentLength == 0 {
		return body
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4096))
	if err := dec.Decode(&body); err != nil {
		return dispatchRequest{}
	}
	return body
}

// authorizeDispatch accepts the shared secret from the X-Reminder-Secret
// header, a bearer token, the secret query parameter or the JSON body, or the
// trusted scheduler header when one is configured.
func (s *Server) authorizeDispatch(r *http.Request, bodySecret string) bool {
	if h := s.cfg.Reminder.SchedulerHeader; h != "" && r.Header.Get(h) != "" {
		return true
	}
	secret := s.cfg.Reminder.Secret
	if secret == "" {
		return false
	}

	candidates := []string{
		r.Header.Get("X-Reminder-Secret"),
		bearerToken(r),
		r.URL.Query().Get("secret"),
		bodySecret,
	}
	for _, c := range candidates {
		if c != "" && secureCompare(c, secret) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// alertsResponse is the JSON response shape for /api/alerts.
type alertsResponse struct {
	Alerts []model.VisitAlert `json:"alerts"`
	Days   int                `json:"days"`
	Now    time.Time          `json:"now"`
}

// handleAlerts lists upcoming occurrences.
//
// GET /api/alerts?days=7
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	days := alert.ClampDays(parseIntDefault(r.URL.Query().Get("days"), alert.DefaultDays))

	visits, err := s.deps.Store.ListScheduled(r.Context())
	if err != nil {
		appLog.Error("alerts: list visits failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load visits")
		return
	}
	now := s.deps.Now().In(s.loc)
	writeJSON(w, http.StatusOK, alertsResponse{
		Alerts: alert.Build(visits, now, days, s.loc),
		Days:   days,
		Now:    now,
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="visitcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ResolveLocationOrLocal loads an IANA zone, falling back to time.Local.
func ResolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
