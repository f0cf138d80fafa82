package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sync-profile/internal/analytics"
	"sync-profile/internal/models"
	"sync-profile/internal/pvstore"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBatch = 10_000

// QueueStats reports the state of the publication queue.
type QueueStats interface {
	Len() int
	Dropped() uint64
}

type Options struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Queue      QueueStats
	Logger     *slog.Logger
	// Now stamps events posted without a timestamp.
	Now func() time.Time
}

type Server struct {
	router *mux.Router
	engine *analytics.Engine
	table  *pvstore.Table
	queue  QueueStats
	logger *slog.Logger
	now    func() time.Time

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(engine *analytics.Engine, table *pvstore.Table, opts Options) *Server {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	factory := promauto.With(opts.Registerer)
	s := &Server{
		router: mux.NewRouter(),
		engine: engine,
		table:  table,
		queue:  opts.Queue,
		logger: opts.Logger,
		now:    opts.Now,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	s.setupRoutes(opts.Gatherer)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.ingestHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/pv", s.listPVHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/pv/{name:.+}", s.getPVHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/sources/{name}", s.sourceHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/pairs/{a}/{b}", s.pairHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		s.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		s.requestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type healthResponse struct {
	Status        string             `json:"status"`
	Timestamp     time.Time          `json:"timestamp"`
	Engine        models.EngineStats `json:"engine"`
	QueueLength   int                `json:"queue_length"`
	QueueDropped  uint64             `json:"queue_dropped"`
	EngineStopped bool               `json:"engine_stopped"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Engine:        s.engine.Stats(),
		EngineStopped: s.engine.Stopped(),
	}
	if s.queue != nil {
		resp.QueueLength = s.queue.Len()
		resp.QueueDropped = s.queue.Dropped()
	}
	if resp.EngineStopped {
		resp.Status = "stopping"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type eventRequest struct {
	Source    string   `json:"source"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

type eventResult struct {
	Source  string `json:"source"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type batchResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Results  []eventResult `json:"results"`
}

// ingestHandler accepts one event object or an array of them.
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []eventRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(reqs) > maxBatch {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("batch of %d exceeds %d events", len(reqs), maxBatch))
			return
		}
		s.ingestBatch(w, reqs)
		return
	}

	var req eventRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res := s.handleEvent(req)
	s.writeJSON(w, statusFor(res.Status), res)
}

func (s *Server) ingestBatch(w http.ResponseWriter, reqs []eventRequest) {
	resp := batchResponse{Results: make([]eventResult, 0, len(reqs))}
	for _, req := range reqs {
		res := s.handleEvent(req)
		if res.Status == "accepted" {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
		resp.Results = append(resp.Results, res)
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleEvent(req eventRequest) eventResult {
	if req.Source == "" {
		return eventResult{Status: "invalid", Message: "source is required"}
	}
	ts := models.Seconds(s.now())
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	err := s.engine.OnUpdate(req.Source, ts)
	switch {
	case err == nil:
		return eventResult{Source: req.Source, Status: "accepted"}
	case errors.Is(err, analytics.ErrNonMonotonicUpdate):
		return eventResult{Source: req.Source, Status: "discarded", Message: err.Error()}
	case errors.Is(err, analytics.ErrUnknownSource):
		return eventResult{Source: req.Source, Status: "unknown", Message: err.Error()}
	case errors.Is(err, analytics.ErrStopped):
		return eventResult{Source: req.Source, Status: "stopped", Message: err.Error()}
	default:
		return eventResult{Source: req.Source, Status: "error", Message: err.Error()}
	}
}

func statusFor(status string) int {
	switch status {
	case "accepted", "discarded":
		return http.StatusAccepted
	case "unknown":
		return http.StatusNotFound
	case "invalid":
		return http.StatusBadRequest
	case "stopped":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listPVHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.table.List(r.URL.Query().Get("subject")))
}

func (s *Server) getPVHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.table.Get(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", name, err))
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) sourceHandler(w http.ResponseWriter, r *http.Request) {
	tr, err := s.engine.Source(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tr.Snapshot())
}

func (s *Server) pairHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pt, err := s.engine.Pair(vars["a"], vars["b"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	a, b := pt.Members()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pair":     pt.Name(),
		"a":        a,
		"b":        b,
		"snapshot": pt.Snapshot(),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}
	return <-errCh
}
