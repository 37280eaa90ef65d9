package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		envelope   *errors.ErrorEnvelope
		statusCode int
		wantCode   string
		wantMsg    string
		wantID     string
	}{
		{
			name:       "basic error",
			envelope:   errors.NewErrorEnvelope(CodeBadRequest, "bad body"),
			statusCode: http.StatusBadRequest,
			wantCode:   CodeBadRequest,
			wantMsg:    "bad body",
		},
		{
			name:       "internal error",
			envelope:   errors.NewErrorEnvelope(CodeInternal, "something went wrong"),
			statusCode: http.StatusInternalServerError,
			wantCode:   CodeInternal,
			wantMsg:    "something went wrong",
		},
		{
			name: "error with correlation ID",
			envelope: errors.NewErrorEnvelope(CodeNotFound, "resource not found").
				WithCorrelationID("corr-123"),
			statusCode: http.StatusNotFound,
			wantCode:   CodeNotFound,
			wantMsg:    "resource not found",
			wantID:     "corr-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			WriteError(rec, tt.envelope, tt.statusCode)

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMsg, body.Message)
			assert.Equal(t, tt.wantID, body.RequestID)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestWriteError_WithContext(t *testing.T) {
	envelope := errors.NewErrorEnvelope(CodeBadRequest, "invalid input")
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"field": "requester_email",
		"value": "invalid",
	})

	rec := httptest.NewRecorder()
	WriteError(rec, envelope, http.StatusBadRequest)

	body := decode(t, rec)
	require.NotNil(t, body.Details)
	assert.Equal(t, "requester_email", body.Details["field"])
	assert.Equal(t, "invalid", body.Details["value"])
}

func TestError_CorrelatesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-42")

	Error(rec, http.StatusConflict, CodeConflict, "snapshot alpha is in process", map[string]any{"snapshot": "alpha"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeConflict, body.Code)
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "alpha", body.Details["snapshot"])
}

func TestError_NestedDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, http.StatusServiceUnavailable, CodeServiceUnavailable, "checks failed",
		map[string]any{"checks": map[string]string{"history": "unhealthy"}})

	body := decode(t, rec)
	checks, ok := body.Details["checks"].(map[string]interface{})
	require.True(t, ok, "nested details are kept")
	assert.Equal(t, "unhealthy", checks["history"])
}

func TestError_NoDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, http.StatusNotFound, CodeNotFound, "no route", nil)

	assert.NotContains(t, rec.Body.String(), "details")
	assert.NotContains(t, rec.Body.String(), "request_id")
}

func TestJSONEnvelopes(t *testing.T) {
	rec := httptest.NewRecorder()
	Accepted(rec, map[string]string{"key": "alpha"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"data":{"key":"alpha"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	JSON(rec, []int{1})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[1]}`, rec.Body.String())
}
