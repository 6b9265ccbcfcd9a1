package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/enclosure"
	"github.com/ashford-obs/opsd/internal/environment"
	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/metrics"
	"github.com/ashford-obs/opsd/internal/ops"
	"github.com/ashford-obs/opsd/internal/schedule"
	"github.com/ashford-obs/opsd/internal/site"
	"github.com/ashford-obs/opsd/internal/telescope"
)

const (
	controlAddr  = "10.0.0.5:41234"
	strangerAddr = "192.168.1.200:55000"
)

type safeAggregator struct{}

func (safeAggregator) Snapshot(ctx context.Context) (gateway.Snapshot, error) {
	return gateway.Snapshot{
		"vaisala": {Parameters: map[string]gateway.Parameter{
			"wind_speed": {Current: true, Latest: 10},
		}},
	}, nil
}

type fixture struct {
	routes    http.Handler
	scheduler *telescope.Scheduler
	enclosure *enclosure.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, 8, 25, 22, 0, 0, 0, time.UTC)
	location := site.Location{Latitude: 28.76, Longitude: -17.88, Elevation: 2396}

	dome := gateway.NewSimulatedDome(gateway.DomeConfig{Type: "simulated"})
	monitor := environment.NewMonitor(environment.Config{
		Gateway: safeAggregator{},
		Groups: []environment.GroupConfig{{
			Key:   "wind",
			Label: "Wind",
			Watchers: []environment.WatcherConfig{
				{Label: "Vaisala", Device: "vaisala", Parameter: "wind_speed"},
			},
		}},
	})
	monitor.Poll(context.Background())

	ctrl := enclosure.NewController(enclosure.Config{Dome: dome, Environment: monitor})
	sched := telescope.NewScheduler(telescope.Config{Dome: ctrl, Catalog: action.NewCatalog()})

	sup, err := ops.NewSupervisor(ops.Config{
		Enclosure:   ctrl,
		Scheduler:   sched,
		Environment: monitor,
		Schedule: schedule.Config{
			Location:       location,
			Catalog:        action.NewCatalog(),
			RequireTonight: true,
			Now:            func() time.Time { return now },
		},
		ControlMachines: []string{"10.0.0.5"},
	})
	require.NoError(t, err)

	handler := NewHandler(sup, metrics.New(), nil)
	return &fixture{routes: handler.Routes(), scheduler: sched, enclosure: ctrl}
}

func (f *fixture) do(method, path, caller string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = caller
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) command(t *testing.T, method, path, caller, body string) commandResponse {
	t.Helper()
	rec := f.do(method, path, caller, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (f *fixture) allAutomatic(t *testing.T) {
	t.Helper()
	resp := f.command(t, http.MethodPost, "/dome/mode", controlAddr, `{"mode": "AUTOMATIC"}`)
	require.Equal(t, int(ops.Succeeded), resp.Code)
	resp = f.command(t, http.MethodPost, "/telescope/mode", controlAddr, `{"mode": "AUTOMATIC"}`)
	require.Equal(t, int(ops.Succeeded), resp.Code)
	f.enclosure.Tick(context.Background())
	f.scheduler.Tick(context.Background())
}

func scheduleJSON(night string) string {
	return fmt.Sprintf(`{
		"night": %q,
		"dome": {"open": "2026-08-25T20:30:00Z", "close": "2026-08-26T06:30:00Z"},
		"actions": [{"type": "wait", "delay": 3600}]
	}`, night)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/status", strangerAddr, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status ops.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "2026-08-25", status.Night)
	assert.True(t, status.Environment.Safe)
}

func TestSubmitScheduleEndpoint(t *testing.T) {
	f := newFixture(t)
	f.allAutomatic(t)

	resp := f.command(t, http.MethodPost, "/schedule", controlAddr, scheduleJSON("2026-08-25"))
	require.Equal(t, int(ops.Succeeded), resp.Code, "errors: %v", resp.Errors)

	require.Len(t, f.scheduler.Status().Schedule, 1)
	assert.True(t, f.enclosure.Status().OpenAt != nil)
}

func TestSubmitScheduleReportsValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.allAutomatic(t)

	resp := f.command(t, http.MethodPost, "/schedule", controlAddr, scheduleJSON("2026-08-26"))
	assert.Equal(t, int(ops.InvalidSchedule), resp.Code)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0], "not tonight")
}

func TestSubmitScheduleMalformedBodyIsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	f.allAutomatic(t)

	// Schedule bodies are validated by the parser, not the transport layer.
	resp := f.command(t, http.MethodPost, "/schedule", controlAddr, "{not json")
	assert.Equal(t, int(ops.InvalidSchedule), resp.Code)
	assert.NotEmpty(t, resp.Errors)
}

func TestModeEndpointRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/dome/mode", controlAddr, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/dome/mode", controlAddr, `{"mode": "SIDEWAYS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownCallerGetsInvalidControlIP(t *testing.T) {
	f := newFixture(t)

	resp := f.command(t, http.MethodPost, "/dome/mode", strangerAddr, `{"mode": "AUTOMATIC"}`)
	assert.Equal(t, int(ops.InvalidControlIP), resp.Code)
	assert.Equal(t, "command not accepted from this machine", resp.Message)
}

func TestTelescopeStopEndpoint(t *testing.T) {
	f := newFixture(t)
	f.allAutomatic(t)

	resp := f.command(t, http.MethodPost, "/telescope/stop", controlAddr, "")
	assert.Equal(t, int(ops.Succeeded), resp.Code)
}

func TestPipelineFrameWithoutActiveAction(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/pipeline/frame", controlAddr, `{"headers": {"EXPTIME": 5.0}}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var cards cardsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cards))
	assert.Empty(t, cards.Cards)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", strangerAddr, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/metrics", strangerAddr, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opsd_environment_safe")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/schedule", controlAddr, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
