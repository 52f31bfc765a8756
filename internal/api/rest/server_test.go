package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/factoryctrl/internal/controlloop"
	"github.com/KevinKickass/factoryctrl/internal/types"
)

type staticStatus controlloop.Status

func (s staticStatus) Status() controlloop.Status {
	return controlloop.Status(s)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)

	return rec
}

// TestHealth reports ok while the loop runs and 503 once it terminated.
func TestHealth(t *testing.T) {
	s := NewServer(0, staticStatus{State: "SUBSCRIBED"}, nil, zap.NewNop())
	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok", "state": "SUBSCRIBED"}`, rec.Body.String())

	s = NewServer(0, staticStatus{State: "TERMINATED"}, nil, zap.NewNop())
	rec = get(t, s, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestStatus returns the loop counters.
func TestStatus(t *testing.T) {
	s := NewServer(0, staticStatus{
		State:        "SUBSCRIBED",
		Topic:        "VideoAnalytics/results",
		Received:     5,
		Alarms:       2,
		Clears:       3,
		LastDecision: "CLEAR",
	}, nil, zap.NewNop())

	rec := get(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Loop controlloop.Status `json:"loop"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, uint64(5), body.Loop.Received)
	require.Equal(t, "VideoAnalytics/results", body.Loop.Topic)
	require.Equal(t, "CLEAR", body.Loop.LastDecision)
}

// TestNoRoute answers unknown paths with the common error body.
func TestNoRoute(t *testing.T) {
	rec := get(t, NewServer(0, staticStatus{}, nil, zap.NewNop()), "/api/v1/devices")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, types.CodeNotFound, body.Error.Code)
}

type panickingStatus struct{}

func (panickingStatus) Status() controlloop.Status {
	panic("status snapshot failed")
}

// TestRecovery turns a handler panic into a 500 with the common error body.
func TestRecovery(t *testing.T) {
	rec := get(t, NewServer(0, panickingStatus{}, nil, zap.NewNop()), "/api/v1/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, types.CodeInternal, body.Error.Code)
}
