package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("store", PingCheck(pingFunc(func(context.Context) error { return nil }), false))
	c.Register("ledger", PingCheck(pingFunc(func(context.Context) error { return errors.New("conn refused") }), true))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "conn refused", report.Components["ledger"].Message)

	c.Register("redis", PingCheck(pingFunc(func(context.Context) error { return errors.New("timeout") }), false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("ledger", PingCheck(pingFunc(func(context.Context) error { return errors.New("down") }), true))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("store", PingCheck(pingFunc(func(context.Context) error { return errors.New("down") }), false))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
