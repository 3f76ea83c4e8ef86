package scheduleapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schedulr/project/internal/app/eventstore"
	"github.com/schedulr/project/internal/app/guestcredit"
	"github.com/schedulr/project/internal/contracts"
	appLog "github.com/schedulr/project/internal/log"
	platformauth "github.com/schedulr/project/internal/platform/auth"
	"github.com/schedulr/project/internal/platform/metrics"
	"github.com/schedulr/project/internal/scheduling"
)

const (
	guestIDHeader     = "X-Guest-ID"
	defaultListWindow = 7 * 24 * time.Hour
	maxListWindow     = 62 * 24 * time.Hour
)

// CommandWaiter blocks until the event-sink has applied a command.
type CommandWaiter interface {
	WaitForCommandApplied(ctx context.Context, commandID, userID string, timeout time.Duration) error
}

type Handler struct {
	Service       *Service
	Tokens        platformauth.Manager
	Waiter        CommandWaiter
	Metrics       *metrics.Metrics
	AllowedOrigin string
}

func NewHandler(service *Service, tokens platformauth.Manager, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
		Tokens:        tokens,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.metricsMiddleware)
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v1/guest/conflicts/check", h.handleGuestCheck)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Post("/api/v1/conflicts/check", h.handleCheck)
		authR.Get("/api/v1/events", h.handleListEvents)
		authR.Post("/api/v1/events/commands", h.handleCommand)
	})

	return r
}

type checkRequest struct {
	Start           string `json:"start"`
	DurationMinutes *int   `json:"duration_minutes"`
	Timezone        string `json:"timezone"`
}

type guestEvent struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Start           string `json:"start_time"`
	DurationMinutes *int   `json:"duration_minutes"`
	IsCompleted     bool   `json:"is_completed"`
}

type guestCheckRequest struct {
	checkRequest
	Events []guestEvent `json:"events"`
}

type commandRequest struct {
	Action          string `json:"action"`
	EventID         string `json:"event_id"`
	Title           string `json:"title"`
	Start           string `json:"start"`
	DurationMinutes *int   `json:"duration_minutes"`
	Timezone        string `json:"timezone"`
	AllowOverlap    bool   `json:"allow_overlap"`
}

type checkResponse struct {
	scheduling.ConflictResult
	Advice string `json:"advice,omitempty"`
}

type guestCheckResponse struct {
	checkResponse
	CreditsRemaining int `json:"credits_remaining"`
}

type conflictResponse struct {
	Error string `json:"error"`
	checkResponse
}

func newCheckResponse(result scheduling.ConflictResult) checkResponse {
	return checkResponse{ConflictResult: result, Advice: result.Advice()}
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	start, err := parseStart("start", req.Start, req.Timezone)
	if err != nil {
		h.recordCheck("invalid", 0)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := parseDuration("duration_minutes", req.DurationMinutes)
	if err != nil {
		h.recordCheck("invalid", 0)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims := claimsFromContext(r.Context())
	result, err := h.Service.Check(r.Context(), claims.Subject, start, duration, "")
	if err != nil {
		h.recordCheckError(err)
		h.writeServiceError(w, err)
		return
	}
	h.recordResult(result)
	h.writeJSON(w, http.StatusOK, newCheckResponse(result))
}

func (h *Handler) handleGuestCheck(w http.ResponseWriter, r *http.Request) {
	guestID := strings.TrimSpace(r.Header.Get(guestIDHeader))
	if guestID == "" {
		h.writeError(w, http.StatusBadRequest, "missing "+guestIDHeader+" header")
		return
	}
	var req guestCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	q, err := req.query()
	if err != nil {
		h.recordCheck("invalid", 0)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, balance, err := h.Service.GuestCheck(r.Context(), guestID, q)
	if err != nil {
		if errors.Is(err, guestcredit.ErrNoCredits) {
			h.recordGuestCharge("exhausted")
			h.writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":             err.Error(),
				"credits_remaining": 0,
			})
			return
		}
		h.recordCheckError(err)
		h.writeServiceError(w, err)
		return
	}
	h.recordGuestCharge("charged")
	h.recordResult(result)
	h.writeJSON(w, http.StatusOK, guestCheckResponse{
		checkResponse:    newCheckResponse(result),
		CreditsRemaining: balance.Remaining,
	})
}

// query resolves every timestamp with the request's timezone.
func (req guestCheckRequest) query() (scheduling.ConflictQuery, error) {
	start, err := parseStart("start", req.Start, req.Timezone)
	if err != nil {
		return scheduling.ConflictQuery{}, err
	}
	duration, err := parseDuration("duration_minutes", req.DurationMinutes)
	if err != nil {
		return scheduling.ConflictQuery{}, err
	}
	q := scheduling.ConflictQuery{
		ProposedStart:           start,
		ProposedDurationMinutes: duration,
		CandidateEvents:         make([]scheduling.Event, 0, len(req.Events)),
	}
	for i, ev := range req.Events {
		field := "events[" + strconv.Itoa(i) + "]"
		evStart, err := parseStart(field+".start_time", ev.Start, req.Timezone)
		if err != nil {
			return scheduling.ConflictQuery{}, err
		}
		evDuration, err := parseDuration(field+".duration_minutes", ev.DurationMinutes)
		if err != nil {
			return scheduling.ConflictQuery{}, err
		}
		q.CandidateEvents = append(q.CandidateEvents, scheduling.Event{
			ID:              ev.ID,
			Title:           ev.Title,
			StartTime:       evStart,
			DurationMinutes: evDuration,
			IsCompleted:     ev.IsCompleted,
			Source:          scheduling.SourceOwned,
		})
	}
	return q, nil
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.listWindow(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFromContext(r.Context())
	events, err := h.Service.Events.ListEventsInWindow(r.Context(), claims.Subject, from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"from":   from,
		"to":     to,
		"events": events,
	})
}

func (h *Handler) listWindow(values url.Values) (time.Time, time.Time, error) {
	from := h.Service.Now()
	if raw := values.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, &scheduling.ValidationError{Field: "from", Reason: "expected RFC 3339"}
		}
		from = t
	}
	to := from.Add(defaultListWindow)
	if raw := values.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, &scheduling.ValidationError{Field: "to", Reason: "expected RFC 3339"}
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, &scheduling.ValidationError{Field: "to", Reason: "must be after from"}
	}
	if to.Sub(from) > maxListWindow {
		return time.Time{}, time.Time{}, &scheduling.ValidationError{Field: "to", Reason: "window is limited to 62 days"}
	}
	return from, to, nil
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	duration, err := parseDuration("duration_minutes", req.DurationMinutes)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd := CommandRequest{
		Action:          req.Action,
		EventID:         req.EventID,
		Title:           req.Title,
		DurationMinutes: duration,
		AllowOverlap:    req.AllowOverlap,
	}
	switch normalizeAction(req.Action) {
	case contracts.ActionSchedule, contracts.ActionReschedule:
		start, err := parseStart("start", req.Start, req.Timezone)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd.Start = start
	}

	claims := claimsFromContext(r.Context())
	resp, err := h.Service.Accept(r.Context(), Actor{UserID: claims.Subject, Username: claims.Username}, cmd)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			h.recordResult(conflict.Result)
			h.writeJSON(w, http.StatusConflict, conflictResponse{
				Error:         err.Error(),
				checkResponse: newCheckResponse(conflict.Result),
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	if h.Waiter != nil && r.URL.Query().Get("wait") == "true" {
		if err := h.Waiter.WaitForCommandApplied(r.Context(), resp.CommandID, claims.Subject, 2*time.Second); err != nil {
			appLog.Error("wait for command failed", err, "command_id", resp.CommandID)
		}
	}
	if h.Metrics != nil {
		h.Metrics.RecordCommand(normalizeAction(req.Action))
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// writeServiceError maps service errors to status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEventIDRequired), errors.Is(err, ErrUnsupportedAction),
		errors.Is(err, guestcredit.ErrGuestIDRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eventstore.ErrEventNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSyncedReadOnly):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("request failed", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) recordResult(result scheduling.ConflictResult) {
	if result.HasConflict {
		h.recordCheck("conflict", len(result.AlternativeSlots))
		return
	}
	h.recordCheck("clear", 0)
}

func (h *Handler) recordCheckError(err error) {
	if errors.Is(err, scheduling.ErrValidation) {
		h.recordCheck("invalid", 0)
		return
	}
	h.recordCheck("error", 0)
}

func (h *Handler) recordCheck(outcome string, alternatives int) {
	if h.Metrics != nil {
		h.Metrics.RecordConflictCheck(outcome, alternatives)
	}
}

func (h *Handler) recordGuestCharge(result string) {
	if h.Metrics != nil {
		h.Metrics.RecordGuestCharge(result)
	}
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.RecordRequest(route, r.Method, status, time.Since(started))
	})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+guestIDHeader)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}

	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Tokens.Parse(token)
		if err != nil || strings.TrimSpace(claims.Subject) == "" {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
