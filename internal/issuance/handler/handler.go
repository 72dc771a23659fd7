package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrelay/internal/credential"
	"credrelay/internal/issuance/service"
	"credrelay/internal/platform/metrics"
	"credrelay/internal/platform/middleware"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/platform/httputil"
)

// Service defines the interface for issuance operations.
type Service interface {
	Issue(ctx context.Context, subjectID credential.SubjectID, payload json.RawMessage) (service.Result, error)
}

// Handler handles issuance endpoints.
type Handler struct {
	logger  *slog.Logger
	issuer  Service
	metrics *metrics.Metrics
}

// New creates a new issuance Handler.
func New(issuer Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		issuer:  issuer,
		metrics: m,
	}
}

// Register registers the issuance routes with the chi router. The health
// endpoint stays outside the middleware chain so liveness probes keep working
// while the stores do not.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.Latency(h.metrics))
	api.Post("/api/issue", h.handleIssue)

	r.Mount("/", api)
	r.Get("/health", h.handleHealth)
}

// issueResponse keeps the field names the fleet's callers already parse.
type issueResponse struct {
	SubjectID credential.SubjectID `json:"userid"`
	IssuedBy  string               `json:"workerId"`
	IssuedAt  string               `json:"timestamp"`
	Status    string               `json:"status"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	// The whole body is the credential payload; only userid is interpreted.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	var req struct {
		SubjectID credential.SubjectID `json:"userid"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.WarnContext(ctx, "invalid issue request",
				"request_id", requestID,
				"error", err.Error(),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	res, err := h.issuer.Issue(ctx, req.SubjectID, json.RawMessage(body))
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) {
			h.logger.WarnContext(ctx, "issue request rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "issue request failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == service.StatusIssued {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, issueResponse{
		SubjectID: res.SubjectID,
		IssuedBy:  res.IssuedBy,
		IssuedAt:  credential.FormatTime(res.IssuedAt),
		Status:    string(res.Status),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
