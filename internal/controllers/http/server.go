package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controllers/api"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/ports"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

const maxBody = 64 << 10

type Config struct {
	Addr string
	// Stats feeds the Modbus counters of /metrics. Optional.
	Stats func() modbusclient.Stats
}

type Server struct {
	svc    ports.VentilationService
	srv    *http.Server
	logger zerolog.Logger
}

// New returns a runnable server.
func New(svc ports.VentilationService, cfg Config, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc, logger: logger.With().Str("component", "http").Logger()}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)
	mux.HandleFunc("GET /v1/variables/{name}", s.handleGetVariable)

	// Write
	mux.HandleFunc("POST /v1/fan/stage", s.handlePostStage)
	mux.HandleFunc("POST /v1/fan/percentage", s.handlePostPercentage)
	mux.HandleFunc("POST /v1/fan/preset", s.handlePostPreset)
	mux.HandleFunc("POST /v1/variables/{name}", s.handlePostVariable)
	mux.HandleFunc("POST /v1/services/{name}", s.handleService)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newCollector(svc, cfg.Stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondSnapshot(w)
}

func (s *Server) handlePostStage(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "intensive"} or {"value": 3}
	postValue(s, w, r, func(v api.Stage) error {
		return s.svc.SetSpeed(r.Context(), ventilation.Stage(v))
	})
}

func (s *Server) handlePostPercentage(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v int) error {
		return s.svc.SetPercentage(r.Context(), v)
	})
}

func (s *Server) handlePostPreset(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "party"}
	postValue(s, w, r, func(v api.Preset) error {
		return s.svc.SetPreset(r.Context(), ventilation.Preset(v))
	})
}

func (s *Server) handlePostVariable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	postValue(s, w, r, func(v any) error {
		return s.svc.SetVariable(r.Context(), name, v)
	})
}

type variableDTO struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
	Unit     string `json:"unit,omitempty"`
	Writable bool   `json:"writable"`
	Value    any    `json:"value"`
}

func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d, err := s.svc.Catalog().Lookup(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.svc.GetVariable(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variableDTO{
		Name:     d.Name,
		Variable: d.Variable(),
		Unit:     d.Unit,
		Writable: d.Writable(),
		Value:    v.Interface(),
	})
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "cannot read body")
		return
	}
	args, err := api.DecodeArgs(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := api.Call(r.Context(), s.svc, r.PathValue("name"), args); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondSnapshot(w)
}

// ---- generic helpers ----

func (s *Server) respondSnapshot(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, api.NewSnapshot(s.svc))
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		s.writeError(w, err)
		return
	}

	s.respondSnapshot(w)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownVariable), errors.Is(err, api.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, transcode.ErrEncoding),
		errors.Is(err, api.ErrInvalidArgument),
		errors.Is(err, party.ErrInvalidSpeed),
		errors.Is(err, party.ErrInvalidDuration),
		errors.Is(err, ventilation.ErrInvalidStage),
		errors.Is(err, ventilation.ErrInvalidPreset),
		errors.Is(err, ventilation.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, modbusclient.ErrCommunication), errors.Is(err, transcode.ErrDecoding):
		return http.StatusBadGateway
	case errors.Is(err, modbusclient.ErrClosed), errors.Is(err, modbusclient.ErrNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("request failed")
	}
	writeErr(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
