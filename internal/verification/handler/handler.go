package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrelay/internal/credential"
	"credrelay/internal/platform/metrics"
	"credrelay/internal/platform/middleware"
	"credrelay/internal/verification/service"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/platform/httputil"
)

// Service defines the interface for verification operations.
type Service interface {
	Verify(ctx context.Context, subjectID credential.SubjectID) (service.Result, error)
}

// Handler handles verification endpoints.
type Handler struct {
	logger   *slog.Logger
	verifier Service
	metrics  *metrics.Metrics
}

// New creates a new verification Handler.
func New(verifier Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		verifier: verifier,
		metrics:  m,
	}
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.Latency(h.metrics))
	api.Post("/api/verify", h.handleVerify)

	r.Mount("/", api)
	r.Get("/health", h.handleHealth)
}

type verifyRequest struct {
	SubjectID credential.SubjectID `json:"userid"`
}

type verifyResponse struct {
	Found    bool   `json:"found"`
	IssuedBy string `json:"workerId,omitempty"`
	IssuedAt string `json:"timestamp,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid verify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	res, err := h.verifier.Verify(ctx, req.SubjectID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "verify request failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	resp := verifyResponse{Found: res.Found}
	if res.Found {
		resp.IssuedBy = res.IssuedBy
		resp.IssuedAt = credential.FormatTime(res.IssuedAt)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
