// Package api exposes the supervisor over HTTP for the web dashboard, the
// night scheduler and the data pipeline.
//
// Command endpoints always answer 200 with a result code in the body; HTTP
// error statuses are reserved for transport problems such as malformed
// JSON. Callers switch on the code, not the HTTP status.
package api

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/log"
	"github.com/ashford-obs/opsd/internal/metrics"
	"github.com/ashford-obs/opsd/internal/modes"
	"github.com/ashford-obs/opsd/internal/ops"
	"github.com/ashford-obs/opsd/internal/tracing"
)

// maxBodyBytes bounds request bodies; schedules with long action lists fit
// comfortably under this.
const maxBodyBytes = 1 << 20

// Handler serves the supervisor HTTP API.
type Handler struct {
	sup     *ops.Supervisor
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewHandler creates the API handler. metrics and tracer may be nil.
func NewHandler(sup *ops.Supervisor, m *metrics.Metrics, tracer trace.Tracer) *Handler {
	return &Handler{sup: sup, metrics: m, tracer: tracer}
}

// Routes builds the route table. The returned handler includes the tracing
// middleware when a tracer was supplied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /events", h.handleEvents)

	mux.HandleFunc("POST /schedule", h.handleSubmitSchedule)
	mux.HandleFunc("POST /schedule/clear", h.handleClearSchedule)
	mux.HandleFunc("POST /dome/mode", h.handleDomeMode)
	mux.HandleFunc("POST /telescope/mode", h.handleTelescopeMode)
	mux.HandleFunc("POST /telescope/stop", h.handleTelescopeStop)

	mux.HandleFunc("POST /pipeline/frame", h.handleFrame)
	mux.HandleFunc("POST /pipeline/guide_profile", h.handleGuideProfile)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	return tracing.Middleware(h.tracer)(mux)
}

// commandResponse is the body for every command endpoint.
type commandResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type modeRequest struct {
	Mode modes.Mode `json:"mode"`
}

type frameRequest struct {
	Headers action.Headers `json:"headers"`
}

type guideProfileRequest struct {
	Headers  action.Headers `json:"headers"`
	ProfileX []float64      `json:"profile_x"`
	ProfileY []float64      `json:"profile_y"`
}

type cardsResponse struct {
	Cards []action.HeaderCard `json:"cards"`
}

// callerIP extracts the remote host for allow-list checks. Addresses
// without a port (unix sockets, tests) pass through unchanged.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sup.Status())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSubmitSchedule(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	code, messages := h.sup.SubmitSchedule(callerIP(r), raw)
	h.writeCommand(w, code, messages)
}

func (h *Handler) handleClearSchedule(w http.ResponseWriter, r *http.Request) {
	h.writeCommand(w, h.sup.ClearDomeWindow(callerIP(r)), nil)
}

func (h *Handler) handleDomeMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	h.writeCommand(w, h.sup.RequestDomeMode(callerIP(r), req.Mode), nil)
}

func (h *Handler) handleTelescopeMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	h.writeCommand(w, h.sup.RequestSchedulerMode(callerIP(r), req.Mode), nil)
}

func (h *Handler) handleTelescopeStop(w http.ResponseWriter, r *http.Request) {
	h.writeCommand(w, h.sup.StopTelescope(callerIP(r)), nil)
}

func (h *Handler) handleFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	cards := h.sup.NotifyFrame(callerIP(r), req.Headers)
	h.writeJSON(w, http.StatusOK, cardsResponse{Cards: cards})
}

func (h *Handler) handleGuideProfile(w http.ResponseWriter, r *http.Request) {
	var req guideProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	cards := h.sup.NotifyGuideProfile(callerIP(r), req.Headers, req.ProfileX, req.ProfileY)
	h.writeJSON(w, http.StatusOK, cardsResponse{Cards: cards})
}

// handleEvents streams log entries as server-sent events until the client
// disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := log.Subscribe(r.Context())
	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if _, err := io.WriteString(w, "data: "); err != nil {
				return
			}
			if err := encoder.Encode(event.Payload); err != nil {
				return
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeCommand(w http.ResponseWriter, code ops.CommandStatus, errors []string) {
	h.writeJSON(w, http.StatusOK, commandResponse{
		Code:    int(code),
		Message: code.Message(),
		Errors:  errors,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatOps, "encode response", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.ErrorErr(log.CatOps, "encode error response", err)
	}
}
