package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmgr/internal/infrastructure"
	"shopmgr/internal/license"
	"shopmgr/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestProblemDetailsJSON(t *testing.T) {
	problem := NewProblemDetails(http.StatusForbidden, TypeEntitlementRequired, "Activation Required", "", "/api/entitlement").
		WithExtension("activation_url", "/settings").
		WithExtension("status", 999)

	raw, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, TypeEntitlementRequired, body["type"])
	assert.EqualValues(t, http.StatusForbidden, body["status"], "standard members win")
	assert.Equal(t, "/settings", body["activation_url"])
	assert.NotContains(t, body, "detail")

	var zero ProblemDetails
	zero.WithExtension("k", "v")
	assert.Equal(t, "v", zero.Extensions["k"])
}

func TestFromRejection(t *testing.T) {
	tests := []struct {
		err    error
		reason license.Reason
	}{
		{license.ErrMalformedToken, license.ReasonMalformedToken},
		{fmt.Errorf("%w: bad json", license.ErrInvalidPayload), license.ReasonInvalidPayload},
		{license.ErrDeviceMismatch, license.ReasonDeviceMismatch},
		{license.ErrBadSignature, license.ReasonBadSignature},
		{license.ErrExpired, license.ReasonExpired},
		{nil, license.ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			problem := FromRejection(tt.err, "/api/license/activate")
			assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
			assert.Equal(t, TypeLicensePrefix+string(tt.reason), problem.Type)
			assert.Equal(t, string(tt.reason), problem.Extensions["reason"])
			assert.Equal(t, tt.reason.Message(), problem.Detail)
		})
	}
}

func TestHandleError(t *testing.T) {
	h := NewErrorHandler(quietLogger(), false)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"license rejection", fmt.Errorf("activate: %w", license.ErrDeviceMismatch), http.StatusUnprocessableEntity, TypeLicensePrefix + "device_mismatch"},
		{"problem passthrough", LicenseNotFound(""), http.StatusNotFound, TypeLicenseNotFound},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"corrupt storage", fmt.Errorf("read: %w", storage.ErrCorrupt), http.StatusInternalServerError, TypeInternal},
		{"anything else", fmt.Errorf("disk on fire"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
			req = req.WithContext(infrastructure.WithTraceID(req.Context(), "trace-1"))
			rec := httptest.NewRecorder()

			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, "/api/license/activate", body["instance"])
			assert.Equal(t, "trace-1", body["trace_id"])
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
		assert.Zero(t, rec.Body.Len())
	})
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := NewErrorHandler(quietLogger(), false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rec)["type"])

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodPut, "/api/license", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "PUT")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	for _, includeStack := range []bool{false, true} {
		h := NewErrorHandler(quietLogger(), includeStack)
		rec := httptest.NewRecorder()

		RecoveryMiddleware(h)(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeProblem(t, rec)
		if includeStack {
			assert.Equal(t, "boom", body["panic"])
		} else {
			assert.NotContains(t, body, "panic")
		}
	}
}

func TestErrorMiddlewareLogsRedactedBody(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	m := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "eyJtaWQi", "downstream still sees the body")
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(`{"token":"eyJtaWQiOiJ4In0.abcdef"}`))
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, logs.String(), `"status":422`)
	assert.Contains(t, logs.String(), "[REDACTED]")
	assert.NotContains(t, logs.String(), "eyJtaWQi")
}

func TestErrorMiddlewareRecoversPanics(t *testing.T) {
	logger := quietLogger()
	m := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	rec := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/device", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSanitizeRequestBody(t *testing.T) {
	assert.Equal(t, "[UNPARSEABLE]", sanitizeRequestBody([]byte("token=abc")))
	assert.JSONEq(t, `{"token":"[REDACTED]","note":"hi"}`, sanitizeRequestBody([]byte(`{"token":"abc","note":"hi"}`)))
}
