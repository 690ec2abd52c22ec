package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mamori-ai/mamori/internal/auth"
	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/pipeline"
	"github.com/mamori-ai/mamori/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	pipeline            *pipeline.Pipeline
	db                  *storage.DB
	reports             *storage.ReportStore
	jwtMgr              *auth.JWTManager
	opsKeyHash          string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB, Reports, JWTMgr.
type HandlersDeps struct {
	Pipeline            *pipeline.Pipeline
	DB                  *storage.DB
	Reports             *storage.ReportStore
	JWTMgr              *auth.JWTManager
	OpsKeyHash          string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            d.Pipeline,
		db:                  d.DB,
		reports:             d.Reports,
		jwtMgr:              d.JWTMgr,
		opsKeyHash:          d.OpsKeyHash,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleCapture handles POST /v1/capture: one observed exchange in, its span
// out. Under fail-open the response is 202 even when analysis degraded; the
// span itself says so.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var ex model.Exchange
	if err := decodeJSON(w, r, &ex, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	span, err := h.pipeline.Capture(r.Context(), ex)
	if err != nil {
		h.writeCaptureError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, span)
}

// writeCaptureError maps pipeline errors onto HTTP statuses. These only
// surface under fail-closed or for always-raised error classes.
func (h *Handlers) writeCaptureError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr    *model.AuthenticationError
		rateErr    *model.RateLimitError
		anaErr     *model.AnalysisError
		timeoutErr *model.AnalysisTimeoutError
		cfgErr     *model.ConfigurationError
	)
	switch {
	case errors.As(err, &authErr):
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, authErr.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, rateErr.Error())
	case errors.As(err, &anaErr) && anaErr.Kind == model.ErrKindInvalidRequest:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, anaErr.Error())
	case errors.As(err, &timeoutErr):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeDegraded, timeoutErr.Error())
	case errors.As(err, &cfgErr):
		h.logger.Error("capture rejected by configuration", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "configuration error")
	case errors.As(err, &anaErr):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeDegraded, anaErr.Error())
	default:
		h.logger.Error("capture failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	stats := h.pipeline.Stats()

	// Batcher health: >50% capacity = high, >75% capacity = critical.
	batcher := h.pipeline.Batcher()
	batcherStatus := "ok"
	if cap := batcher.Capacity(); cap > 0 {
		if stats.BatcherDepth > cap*3/4 {
			batcherStatus = "critical"
			status = "degraded"
		} else if stats.BatcherDepth > cap/2 {
			batcherStatus = "high"
		}
	}

	resp := model.HealthResponse{
		Status:            status,
		Version:           h.version,
		UptimeSeconds:     int64(time.Since(h.startedAt).Seconds()),
		BatcherDepth:      stats.BatcherDepth,
		BatcherStatus:     batcherStatus,
		LimiterInFlight:   stats.LimiterInFlight,
		DegradedSpans:     stats.DegradedSpans,
		BudgetExceeded:    stats.BudgetExceeded,
		AnalysisLatencyMS: stats.AnalysisLatencyMS,
	}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Postgres = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			resp.Postgres = "connected"
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleAuthToken handles POST /auth/token: operator API key in, JWT out.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.opsKeyHash == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "operator auth not configured")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyOpsKey(req.APIKey, h.opsKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken("ops")
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleGetResilienceReport handles GET /v1/reports/resilience.
// Without parameters it returns the latest report; ?limit=N returns history.
func (h *Handlers) HandleGetResilienceReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "report store not configured")
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		reports, err := h.reports.ListReports(limit)
		if err != nil {
			h.logger.Error("failed to list reports", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list reports")
			return
		}
		writeJSON(w, r, http.StatusOK, reports)
		return
	}

	report, err := h.reports.LatestReport()
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no resilience report recorded")
		return
	}
	if err != nil {
		h.logger.Error("failed to load report", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load report")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandlePostResilienceReport handles POST /v1/reports/resilience: ingest a
// report produced by an external harness run.
func (h *Handlers) HandlePostResilienceReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "report store not configured")
		return
	}

	var report model.ResilienceReport
	if err := decodeJSON(w, r, &report, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if report.OverallResilienceScore < 0 || report.OverallResilienceScore > 1 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "overall_resilience_score out of range [0,1]")
		return
	}
	if report.Verdict != "pass" && report.Verdict != "warning" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "verdict must be pass or warning")
		return
	}

	if err := h.reports.SaveReport(report); err != nil {
		h.logger.Error("failed to save report", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to save report")
		return
	}
	writeJSON(w, r, http.StatusCreated, report)
}
