package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"ttcal/internal/config"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
	"ttcal/internal/pipeline"
	"ttcal/internal/synth"
	"ttcal/internal/term"
)

const eventsCacheTTL = 30 * time.Second

// Server exposes built feeds and a JSON view of synthesized events.
type Server struct {
	cfg     *config.Config
	builder *pipeline.Builder
	mux     *http.ServeMux

	// In-memory cache for /api/users/{user}/events responses to avoid
	// re-synthesizing a whole year on every request.
	eventsMu    sync.RWMutex
	eventsCache map[string]*eventsCache

	// rebuildMu serializes manual rebuilds.
	rebuildMu sync.Mutex
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, builder *pipeline.Builder) *Server {
	s := &Server{
		cfg:         cfg,
		builder:     builder,
		mux:         http.NewServeMux(),
		eventsCache: make(map[string]*eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ttcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
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

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/users", s.handleUsers)
	s.mux.HandleFunc("GET /api/users/{user}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("POST /api/rebuild", s.handleRebuild)
	s.mux.HandleFunc("GET /feeds/{file}", s.handleFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// userDTO is the JSON shape of one entry in /api/users.
type userDTO struct {
	User      string    `json:"user"`
	FeedURL   string    `json:"feed_url"`
	HasFeed   bool      `json:"has_feed"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.builder.Users()
	if err != nil {
		appLog.Error("api users: list failed", err, "input_dir", s.builder.InputDir)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		dto := userDTO{User: u, FeedURL: "/feeds/" + u + ".ics"}
		if st, err := os.Stat(s.builder.FeedPath(u)); err == nil {
			dto.HasFeed = true
			dto.UpdatedAt = st.ModTime().UTC()
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// eventsResponse is the JSON response shape for /api/users/{user}/events.
type eventsResponse struct {
	User     string                `json:"user"`
	Timezone string                `json:"timezone"`
	From     *model.Date           `json:"from,omitempty"`
	To       *model.Date           `json:"to,omitempty"`
	Events   []model.CalendarEvent `json:"events"`
}

// eventsCache holds a user's synthesized events and when they were built.
type eventsCache struct {
	events    []model.CalendarEvent
	updatedAt time.Time
}

// handleEvents returns the synthesized events for one user.
//
// GET /api/users/{user}/events?from=2025-09-01&to=2025-09-30
//   - from, to: optional inclusive date filter (YYYY-MM-DD)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if err := pipeline.ValidUser(user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDateParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	events, err := s.cachedEvents(user)
	if err != nil {
		status := http.StatusInternalServerError
		var (
			die *synth.DataIntegrityError
			ce  *term.ConfigurationError
		)
		switch {
		case errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
		case errors.As(err, &die), errors.As(err, &ce):
			status = http.StatusUnprocessableEntity
		}
		appLog.Error("api events: synthesis failed", err, "user", user)
		writeError(w, status, err.Error())
		return
	}

	filtered := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if from != nil && ev.Date.Before(*from) {
			continue
		}
		if to != nil && ev.Date.After(*to) {
			continue
		}
		filtered = append(filtered, ev)
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		User:     user,
		Timezone: s.cfg.Timezone,
		From:     from,
		To:       to,
		Events:   filtered,
	})
}

func (s *Server) cachedEvents(user string) ([]model.CalendarEvent, error) {
	now := time.Now()

	s.eventsMu.RLock()
	ec := s.eventsCache[user]
	s.eventsMu.RUnlock()
	if ec != nil && now.Sub(ec.updatedAt) < eventsCacheTTL {
		return ec.events, nil
	}

	events, err := s.builder.Events(user)
	if err != nil {
		return nil, err
	}

	s.eventsMu.Lock()
	s.eventsCache[user] = &eventsCache{events: events, updatedAt: now}
	s.eventsMu.Unlock()
	return events, nil
}

// weekResponse is the JSON response shape for /api/week.
type weekResponse struct {
	Date      model.Date     `json:"date"`
	Teaching  bool           `json:"teaching"`
	WeekType  model.WeekType `json:"week_type,omitempty"`
	Weekday   string         `json:"weekday,omitempty"`
	WeekIndex *int           `json:"week_index,omitempty"`
}

// handleWeek reports where a date sits in the A/B rotation.
//
// GET /api/week?date=2025-09-15
//   - date: optional (YYYY-MM-DD), defaults to today in the configured timezone
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	d, err := parseDateParam(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if d == nil {
		loc, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			loc = time.UTC
		}
		today := model.DateOf(time.Now().In(loc))
		d = &today
	}

	resp := weekResponse{Date: *d}
	if slot, ok := s.builder.Year.Resolve(*d); ok {
		resp.Teaching = true
		resp.WeekType = slot.WeekType
		resp.Weekday = slot.Weekday.String()
		resp.WeekIndex = &slot.WeekIndex
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRebuild rebuilds every user's feed (or only ?user=...) and reports
// per-user results.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if !s.rebuildMu.TryLock() {
		writeError(w, http.StatusConflict, "rebuild already in progress")
		return
	}
	defer s.rebuildMu.Unlock()

	users := r.URL.Query()["user"]
	if len(users) == 0 {
		var err error
		users, err = s.builder.Users()
		if err != nil {
			appLog.Error("api rebuild: list failed", err)
			writeError(w, http.StatusInternalServerError, "failed to list users")
			return
		}
	}

	results, err := s.builder.BuildAll(r.Context(), users)

	s.eventsMu.Lock()
	clear(s.eventsCache)
	s.eventsMu.Unlock()

	type rebuildResponse struct {
		Results []pipeline.Result `json:"results"`
		Error   string            `json:"error,omitempty"`
	}
	resp := rebuildResponse{Results: results}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// handleFeed serves a built artifact as text/calendar.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	user, ok := strings.CutSuffix(file, ".ics")
	if !ok || pipeline.ValidUser(user) != nil {
		http.NotFound(w, r)
		return
	}

	body, err := os.ReadFile(s.builder.FeedPath(user))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		appLog.Error("feed read failed", err, "user", user)
		http.Error(w, "failed to read feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func parseDateParam(s string) (*model.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
