package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/api/responses"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	HealthLive("test")(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test", w.Header().Get(envHeader))
}

func TestHealthReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	w := httptest.NewRecorder()
	HealthReady("test", logger.Nop(), map[string]Pinger{"db": ok, "redis": ok})(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	HealthReady("test", logger.Nop(), map[string]Pinger{"db": ok, "redis": down})(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body responses.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "down", body.Error.Details.(map[string]any)["redis"])
}
