package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/haasonsaas/promptengine/internal/admission"
	"github.com/haasonsaas/promptengine/internal/dialect"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/pipeline"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// RequestIDHeader carries the correlation id of an HTTP request.
const RequestIDHeader = "X-Request-ID"

// ExportResponse is a build response extended with the payload translated
// to a provider's native request shape.
type ExportResponse struct {
	*models.BuildResponse
	Dialect         dialect.Name `json:"dialect"`
	ProviderRequest any          `json:"provider_request"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleBuildRequest(w http.ResponseWriter, r *http.Request) {
	ctx := observability.AddTransport(r.Context(), TransportHTTP)

	var target dialect.Name
	if raw := r.URL.Query().Get("dialect"); raw != "" {
		name, err := dialect.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		target = name
	}

	if d := s.limiter.Check(clientKey(r)); !d.Allowed {
		s.metrics.RecordRateLimited()
		w.Header().Set("Retry-After", retryAfter(d.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	req, err := decodeBuildRequest(raw)
	if err != nil {
		s.logger.Debug(ctx, "rejected build request", "error", shapeDetail(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.build(ctx, req)
	if err != nil {
		status := statusFor(ctx, err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			s.logger.Error(ctx, "build request failed", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	if target == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	payload, err := dialect.Convert(target, resp.LLMRequest, dialect.Options{Model: s.opts.Dialect.Model(target)})
	if err != nil {
		s.logger.Error(ctx, "dialect export failed", "dialect", string(target), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{BuildResponse: resp, Dialect: target, ProviderRequest: payload})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.admission.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"in_flight": stats.InFlight,
		"waiting":   stats.Waiting,
	})
}

// decodeBuildRequest validates the document shape and decodes it.
func decodeBuildRequest(raw []byte) (*models.BuildRequest, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &pipeline.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if err := validateBuildRequest(raw); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return nil, fmt.Errorf("malformed JSON: %w", err)
		}
		return nil, &pipeline.ValidationError{Field: "request", Reason: err.Error(), Cause: err}
	}
	var req models.BuildRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	return &req, nil
}

// statusFor maps a build error to an HTTP status code.
func statusFor(ctx context.Context, err error) int {
	switch {
	case pipeline.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrOverloaded):
		return http.StatusServiceUnavailable
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// The client went away; nobody reads this.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// clientKey identifies a client for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// withRequestContext attaches the request id and any inbound trace
// context to the request.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := observability.AddRequestID(r.Context(), id)
		ctx = s.tracer.ExtractHTTP(ctx, r.Header)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records request metrics under a fixed route label.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	inner := s.withRequestContext(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		inner.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *Server) compress(next http.Handler) http.Handler {
	if !s.config.CompressionEnabled() {
		return next
	}
	return gzhttp.GzipHandler(next)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
