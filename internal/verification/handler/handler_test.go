package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"credrelay/internal/credential"
	"credrelay/internal/verification/handler/mocks"
	"credrelay/internal/verification/service"
	dErrors "credrelay/pkg/domain-errors"
	"credrelay/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/verification_mocks.go -package=mocks Service

func newTestHandler(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(mockService, logger, nil)
	r := chi.NewRouter()
	h.Register(r)
	return r, mockService
}

func TestHandleVerifyFound(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		Verify(gomock.Any(), credential.NewSubjectID("u1")).
		Return(service.Result{
			Found:    true,
			IssuedBy: "w1",
			IssuedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		}, nil)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/verify", `{"userid":"u1"}`)
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, true, (*resp)["found"])
	assert.Equal(t, "w1", (*resp)["workerId"])
	assert.Equal(t, "2025-03-01T12:00:00.000Z", (*resp)["timestamp"])
}

func TestHandleVerifyNotFound(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		Verify(gomock.Any(), credential.NewSubjectID("u2")).
		Return(service.Result{Found: false}, nil)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/verify", `{"userid":"u2"}`)
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, false, (*resp)["found"])
	_, hasWorker := (*resp)["workerId"]
	assert.False(t, hasWorker, "not-found responses carry no attribution")
}

func TestHandleVerifyMissingSubjectID(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		Verify(gomock.Any(), credential.SubjectID{}).
		Return(service.Result{}, dErrors.New(dErrors.CodeBadRequest, "credential with unique userid is required"))

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/verify", `{}`)
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertErrorCode(t, rr, "bad_request")
}

func TestHandleVerifyInvalidBody(t *testing.T) {
	r, _ := newTestHandler(t)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/verify", `{not-json`)
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestHandleVerifyStoreUnavailable(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		Verify(gomock.Any(), gomock.Any()).
		Return(service.Result{}, dErrors.New(dErrors.CodeUnavailable, "replica store unavailable"))

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/verify", `{"userid":"u1"}`)
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertErrorCode(t, rr, "service_unavailable")
}

func TestHandleHealth(t *testing.T) {
	r, _ := newTestHandler(t)

	req := testutil.NewRequestWithBody(t, http.MethodGet, "/health", "")
	rr := testutil.DoRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, "ok", (*resp)["status"])
}
