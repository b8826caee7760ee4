package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"thinkbigger/api/internal/auth"
	"thinkbigger/api/internal/chat"
	"thinkbigger/api/internal/export"
	"thinkbigger/api/internal/history"
	"thinkbigger/api/internal/logging"
	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/reconcile"
	"thinkbigger/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(responseHeaders)
	r.Use(logging.AccessLog(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(s.corsOrigin),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)

			r.Get("/users/{userID}/notifications", s.handleListNotifications)
			r.Put("/users/{userID}/notifications", s.handleMarkNotificationsRead)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Get("/sync", s.handleLoad)
				r.Post("/sync", s.handleSave)
				r.Get("/revision", s.handleRevision)
				r.Get("/chat", s.handleListMessages)
				r.Post("/chat", s.handlePostMessage)
				r.Post("/invite", s.handleInvite)
				r.Get("/history", s.handleHistory)
				r.Get("/history/{hash}", s.handleSnapshotAt)
				r.Get("/search", s.handleSearch)
				r.Get("/export", s.handleExport)
			})
		})
	})
	return r
}

func corsOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// responseHeaders echoes the request id and disables caching for API
// responses.
func responseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type identityKey struct{}

func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
			return
		}
		identity, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrMissingToken) {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
				return
			}
			s.logger.Error("authenticate caller", zap.Error(err))
			writeError(w, http.StatusInternalServerError, codeServer, "Identity lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

func callerFrom(r *http.Request) model.Identity {
	identity, _ := r.Context().Value(identityKey{}).(model.Identity)
	return identity
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Load(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	result, err := s.service.Save(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	revs, err := s.service.Revision(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": revs})
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	var candidateID *string
	if raw := strings.TrimSpace(r.URL.Query().Get("candidateId")); raw != "" {
		candidateID = &raw
	}
	items, err := s.service.ListMessages(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), candidateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var body postMessageRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	if err := validateRequest(body); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.service.PostMessage(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), PostMessageInput{
		Content:      body.Content,
		CandidateID:  body.CandidateID,
		MentionedIDs: body.MentionedUserIDs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// notificationOwner resolves {userID}; callers only ever see their own
// notifications.
func notificationOwner(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	caller := callerFrom(r)
	userID := chi.URLParam(r, "userID")
	if userID != "me" && userID != caller.ID {
		writeError(w, http.StatusForbidden, codeForbidden, "Forbidden", nil)
		return model.Identity{}, false
	}
	return caller, true
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := notificationOwner(w, r)
	if !ok {
		return
	}
	markRead := false
	if raw := strings.TrimSpace(r.URL.Query().Get("markRead")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, codeValidation, "markRead must be a boolean", nil)
			return
		}
		markRead = parsed
	}
	items, err := s.service.Notifications(r.Context(), caller, markRead)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := notificationOwner(w, r)
	if !ok {
		return
	}
	var body markReadRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	if err := validateRequest(body); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.service.MarkNotificationsRead(r.Context(), caller, body.NotificationIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var body inviteRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
		return
	}
	if err := validateRequest(body); err != nil {
		s.fail(w, r, err)
		return
	}
	member, err := s.service.Invite(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), body.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "member": member})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	commits, err := s.service.History(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleSnapshotAt(w http.ResponseWriter, r *http.Request) {
	snap, commit, err := s.service.SnapshotAt(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commit": commit, "snapshot": snap})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(w, r, "offset")
	if !ok {
		return
	}
	resp, err := s.service.Search(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), SearchInput{
		Text:   r.URL.Query().Get("q"),
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Export(r.Context(), callerFrom(r), chi.URLParam(r, "projectID"), strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if result.URL != "" {
		w.Header().Set("X-Report-URL", result.URL)
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var recErr *reconcile.Error
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, reconcile.ErrInvalidSnapshot):
		return http.StatusUnprocessableEntity, codeValidation, err.Error(), nil
	// An aborted save is a persistence failure whatever the store said.
	case errors.As(err, &recErr):
		return http.StatusInternalServerError, codePersistence, "Save failed", map[string]any{"collection": recErr.Collection}
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, codeValidation, "format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, codeExportUnavailable, "PDF export is not available on this server", nil
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "Revision not found", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, codeConflict, "Conflict", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, codeServer, "Server error", nil
}
