// ABOUTME: Local HTTP server exposing the calendar API and the OAuth redirect endpoint
// ABOUTME: JSON under /api, an agenda page at /, and /oauth2/callback finishing Google consent
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
	calsync "github.com/harperreed/calsync/sync"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	dateLayout   = "2006-01-02"
	agendaWindow = 30 * 24 * time.Hour
	maxBodyBytes = 1 << 20
)

// Options configures a Server.
type Options struct {
	Addr   string
	Logger *log.Logger
	// OnAuthorized is called after every callback exchange, successful or not.
	OnAuthorized func(models.CredentialStatus, error)
}

type Server struct {
	svc          *service.Service
	addr         string
	logger       *log.Logger
	templates    *template.Template
	onAuthorized func(models.CredentialStatus, error)
	now          func() time.Time
}

func NewServer(svc *service.Service, opts Options) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		svc:          svc,
		addr:         opts.Addr,
		logger:       opts.Logger,
		templates:    tmpl,
		onAuthorized: opts.OnAuthorized,
		now:          time.Now,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleAgendaPage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /oauth2/callback", s.handleCallback)

	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	mux.HandleFunc("GET /api/agenda", s.handleAgenda)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	mux.HandleFunc("POST /api/resolve/{id}", s.handleResolve)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/sync", s.handleLastSync)
	mux.HandleFunc("POST /api/focus", s.handleFocus)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("GET /api/auth/url", s.handleAuthURL)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/holidays", s.handleHolidays)

	return s.logRequests(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down web server: %w", err)
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// The callback query carries the authorization code; log the path only.
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(started).Round(time.Millisecond))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgendaPage(w http.ResponseWriter, r *http.Request) {
	from := startOfDay(s.now())
	items, err := s.svc.Agenda(r.Context(), from, from.Add(agendaWindow))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Items":  items,
		"Status": s.svc.GetCredentialStatus(),
	}
	if last := s.svc.LastPass(); last != nil {
		switch {
		case last.Err != nil:
			data["Banner"] = "Last sync failed: " + last.Err.Error()
			data["BannerError"] = true
		case last.Result != nil:
			banner := "Last sync: " + last.Result.Summary()
			if msg := last.Result.ErrorMessage(); msg != "" {
				banner += " (" + msg + ")"
				data["BannerError"] = true
			}
			data["Banner"] = banner
		}
	}
	s.render(w, http.StatusOK, "agenda.html", data)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status models.CredentialStatus
	var err error
	switch {
	case q.Get("error") != "":
		err = fmt.Errorf("google returned %s", q.Get("error"))
	case q.Get("code") == "":
		err = fmt.Errorf("no authorization code in callback")
	default:
		status, err = s.svc.ExchangeAuthorizationCode(r.Context(), q.Get("code"), q.Get("state"))
	}

	if s.onAuthorized != nil {
		s.onAuthorized(status, err)
	}

	data := map[string]any{"Email": status.UserEmail}
	code := http.StatusOK
	if err != nil {
		s.logger.Warn("authorization callback failed", "err", err)
		data["Error"] = err.Error()
		code = http.StatusBadRequest
	}
	s.render(w, code, "callback.html", data)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var draft models.CalendarEvent
	if err := decodeBody(w, r, &draft); err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.svc.CreateEvent(r.Context(), &draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.CalendarEvent
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, err)
		return
	}
	ev.ID = r.PathValue("id")
	updated, err := s.svc.UpdateEvent(r.Context(), &ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r, startOfDay(s.now()), agendaWindow)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.svc.Agenda(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, badRequest("invalid limit %q", raw))
			return
		}
	}

	events, err := s.svc.SearchEvents(r.Context(), db.SearchQuery{Text: q.Get("q"), From: from, To: to, Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListConflicts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	keep := calsync.Resolution(r.URL.Query().Get("keep"))
	if keep != calsync.KeepLocal && keep != calsync.KeepRemote {
		writeError(w, badRequest("keep must be local or remote"))
		return
	}
	ev, err := s.svc.ResolveConflict(r.Context(), r.PathValue("id"), keep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": ev == nil, "event": ev})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var result *models.SyncResult
	var err error
	if pushOnly, _ := strconv.ParseBool(r.URL.Query().Get("push_only")); pushOnly {
		result, err = s.svc.PushChanges(r.Context())
	} else {
		result, err = s.svc.RunSync(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(result))
}

func (s *Server) handleLastSync(w http.ResponseWriter, r *http.Request) {
	last := s.svc.LastPass()
	if last == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	resp := map[string]any{"trigger": last.Trigger}
	if last.Result != nil {
		resp["result"] = syncResponse(last.Result)
	}
	if last.Err != nil {
		resp["error"] = last.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": s.svc.Focus()})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetCredentialStatus())
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	auth, err := s.svc.BeginAuthorization(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, auth)
		return
	}
	http.Redirect(w, r, auth.URL, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r, time.Time{}, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	holidays, err := s.svc.ListHolidays(r.Context(), r.URL.Query().Get("country"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holidays)
}

func (s *Server) render(w http.ResponseWriter, code int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template error", "template", name, "err", err)
	}
}

type syncResult struct {
	*models.SyncResult
	Summary      string `json:"summary"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func syncResponse(r *models.SyncResult) syncResult {
	if r == nil {
		return syncResult{SyncResult: &models.SyncResult{}}
	}
	return syncResult{SyncResult: r, Summary: r.Summary(), ErrorMessage: r.ErrorMessage()}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, badRequest("invalid date %q", s)
	}
	return t, nil
}

// window reads from/to query parameters. A missing to is from+span when span
// is non-zero.
func window(r *http.Request, defaultFrom time.Time, span time.Duration) (time.Time, time.Time, error) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() {
		from = defaultFrom
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.IsZero() && span > 0 {
		to = from.Add(span)
	}
	return from, to, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, models.ErrInvalidEvent),
		errors.Is(err, calsync.ErrInvalidGrant),
		errors.Is(err, service.ErrStateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound), errors.Is(err, service.ErrHolidaysDisabled):
		return http.StatusNotFound
	case errors.Is(err, calsync.ErrSyncInProgress), errors.Is(err, calsync.ErrNotConflicted):
		return http.StatusConflict
	case errors.Is(err, calsync.ErrUnauthenticated), errors.Is(err, calsync.ErrReauthorizationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, calsync.ErrClientNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
