package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"draftdodger/api/internal/hunk"
	"draftdodger/api/internal/util"

	"github.com/rs/zerolog/log"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyz" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/proposals" {
		s.handleProposals(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/merge" {
		s.handleMerge(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/hunks" {
		var body struct {
			Current  *string `json:"current"`
			Proposed *string `json:"proposed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if missing := missingFields(map[string]bool{"current": body.Current == nil, "proposed": body.Proposed == nil}); len(missing) > 0 {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "missing required fields", map[string]any{"fields": missing})
			return
		}
		writeJSON(w, http.StatusOK, s.service.BuildHunks(*body.Current, *body.Proposed))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("q"), limit, offset))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "ws" && parts[1] == "projects" && r.Method == http.MethodGet {
		projectID, err := cleanProjectID(parts[2])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.handleStream(w, r, projectID)
		return
	}

	if len(parts) >= 2 && parts[0] == "projects" {
		projectID, err := cleanProjectID(parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.handleProjects(w, r, projectID, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "exports" && r.Method == http.MethodGet {
		s.handleExports(w, r, parts[1], parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
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

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID    *string `json:"project_id"`
		Base         *string `json:"base"`
		Current      *string `json:"current"`
		Instructions string  `json:"instructions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	missing := missingFields(map[string]bool{
		"project_id": body.ProjectID == nil,
		"base":       body.Base == nil,
		"current":    body.Current == nil,
	})
	if len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "missing required fields", map[string]any{"fields": missing})
		return
	}

	result, err := s.service.Propose(r.Context(), ProposalInput{
		ProjectID:    *body.ProjectID,
		Base:         *body.Base,
		Current:      *body.Current,
		Instructions: body.Instructions,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID *string      `json:"project_id"`
		Hunks     *[]hunk.Hunk `json:"hunks"`
		Author    string       `json:"author"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	missing := missingFields(map[string]bool{
		"project_id": body.ProjectID == nil,
		"hunks":      body.Hunks == nil,
	})
	if len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "missing required fields", map[string]any{"fields": missing})
		return
	}

	result, err := s.service.Merge(r.Context(), MergeInput{
		ProjectID: *body.ProjectID,
		Hunks:     *body.Hunks,
		Author:    body.Author,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, projectID string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodGet {
		payload, err := s.service.Project(r.Context(), projectID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if len(parts) == 2 && parts[0] == "history" && r.Method == http.MethodGet {
		payload, err := s.service.HistoricalDocument(r.Context(), projectID, parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		payload map[string]any
		err     error
		status  = http.StatusOK
	)
	switch {
	case parts[0] == "document" && r.Method == http.MethodGet:
		payload, err = s.service.Document(r.Context(), projectID)
	case parts[0] == "history" && r.Method == http.MethodGet:
		payload, err = s.service.History(r.Context(), projectID, limit)
	case parts[0] == "exports" && r.Method == http.MethodGet:
		payload, err = s.service.ListExports(r.Context(), projectID, limit)
	case parts[0] == "exports" && r.Method == http.MethodPost:
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateExport(r.Context(), projectID, body.Format)
		status = http.StatusAccepted
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleExports(w http.ResponseWriter, r *http.Request, exportID string, parts []string) {
	if len(parts) == 0 {
		payload, err := s.service.GetExport(r.Context(), exportID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 1 && parts[0] == "download" {
		rc, object, filename, err := s.service.OpenExport(r.Context(), exportID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", object.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		if object.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(object.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			log.Warn().Err(err).Str("export_id", exportID).Msg("stream export artifact")
		}
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func missingFields(checks map[string]bool) []string {
	missing := make([]string, 0)
	for _, field := range []string{"project_id", "base", "current", "proposed", "hunks"} {
		if checks[field] {
			missing = append(missing, field)
		}
	}
	return missing
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("http request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket handshake take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	return util.NewID("req")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
