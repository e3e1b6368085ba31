// Package api exposes the indicator service over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"
)

const maxBodyBytes = 8 << 20

// Handler serves the REST API.
type Handler struct {
	svc    *service.Service
	health *metrics.HealthStatus // optional
	log    *slog.Logger
}

// NewRouter registers every REST route on a new mux. health may be nil.
func NewRouter(svc *service.Service, health *metrics.HealthStatus, log *slog.Logger) *http.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, health: health, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", h.traced(http.MethodGet, h.handleHealth))
	mux.HandleFunc("/api/v1/indicators", h.traced(http.MethodGet, h.handleIndicators))
	mux.HandleFunc("/api/v1/indicators/compute", h.traced(http.MethodPost, h.handleCompute))
	mux.HandleFunc("/api/v1/indicators/descriptions", h.traced(http.MethodGet, h.handleDescriptions))
	mux.HandleFunc("/api/v1/indicators/presets", h.traced(http.MethodGet, h.handlePresets))
	mux.HandleFunc("/api/v1/bars", h.traced(http.MethodPost, h.handleBars))
	mux.HandleFunc("/api/v1/symbols", h.traced(http.MethodGet, h.handleSymbols))
	return mux
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

// traced enforces the method, answers preflight requests and attaches a
// trace ID (the caller's X-Request-ID when present) to the request context.
func (h *Handler) traced(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
			return
		}

		tid := r.Header.Get("X-Request-ID")
		if tid == "" {
			tid = logger.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", tid)
		ctx := logger.WithTraceID(r.Context(), tid)

		start := time.Now()
		fn(w, r.WithContext(ctx))
		h.log.Debug("http request", append(logger.LogWithTrace(ctx),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)),
		)...)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to 400 / 404 / 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch service.ErrorKind(err) {
	case "invalid":
		code = http.StatusBadRequest
	case "not_found":
		code = http.StatusNotFound
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", append(logger.LogWithTrace(r.Context()),
			slog.String("path", r.URL.Path), slog.Any("error", err))...)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, TraceID: logger.TraceID(r.Context())})
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidRequest, msg)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.health != nil {
		status = h.health.Verdict()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// GET /api/v1/indicators?symbol=AAPL&tf=5m&limit=300&preset=trend&indicators=rsi:21
func (h *Handler) handleIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.Request{
		Symbol:     q.Get("symbol"),
		Preset:     q.Get("preset"),
		Indicators: q.Get("indicators"),
	}
	if s := q.Get("tf"); s != "" {
		tf, err := model.ParseTF(s)
		if err != nil {
			h.writeError(w, r, badRequest(err.Error()))
			return
		}
		req.TF = tf
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, badRequest("limit must be an integer"))
			return
		}
		req.Limit = n
	}

	resp, err := h.svc.Compute(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ComputeRequest is the body of POST /api/v1/indicators/compute.
type ComputeRequest struct {
	Bars       []model.Bar       `json:"bars"`
	Preset     string            `json:"preset,omitempty"`
	Indicators string            `json:"indicators,omitempty"`
	Config     *indicator.Config `json:"config,omitempty"`
}

// UnmarshalJSON starts a supplied config from the defaults so partial
// configs keep default parameters.
func (c *ComputeRequest) UnmarshalJSON(data []byte) error {
	type plain ComputeRequest
	aux := struct {
		*plain
		Config json.RawMessage `json:"config,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Config) == 0 || string(aux.Config) == "null" {
		c.Config = nil
		return nil
	}
	cfg := indicator.DefaultConfig()
	if err := json.Unmarshal(aux.Config, &cfg); err != nil {
		return err
	}
	c.Config = &cfg
	return nil
}

func (h *Handler) handleCompute(w http.ResponseWriter, r *http.Request) {
	var body ComputeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, r, badRequest("invalid JSON: "+err.Error()))
		return
	}
	cfg, err := h.svc.ResolveConfig(service.Request{
		Preset:     body.Preset,
		Indicators: body.Indicators,
		Config:     body.Config,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.svc.ComputeBars(body.Bars, cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// IngestRequest is the body of POST /api/v1/bars.
type IngestRequest struct {
	Bars []model.Bar `json:"bars"`
}

func (h *Handler) handleBars(w http.ResponseWriter, r *http.Request) {
	var body IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, r, badRequest("invalid JSON: "+err.Error()))
		return
	}
	res, err := h.svc.Ingest(r.Context(), body.Bars)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) handleDescriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indicator.Descriptions())
}

func (h *Handler) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.svc.DefaultConfig(),
		"presets": h.svc.Presets(),
	})
}

type seriesOut struct {
	model.SeriesInfo
	Label string `json:"label"`
}

func (h *Handler) handleSymbols(w http.ResponseWriter, r *http.Request) {
	series, err := h.svc.Symbols(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]seriesOut, len(series))
	for i, s := range series {
		out[i] = seriesOut{SeriesInfo: s, Label: model.TFLabel(s.TF)}
	}
	writeJSON(w, http.StatusOK, out)
}
