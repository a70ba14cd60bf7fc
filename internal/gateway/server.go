// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novatechflow/kafgate/internal/metrics"
	"github.com/novatechflow/kafgate/pkg/apierr"
	"github.com/novatechflow/kafgate/pkg/bridge"
	"github.com/novatechflow/kafgate/pkg/consumer"
	"github.com/novatechflow/kafgate/pkg/metadata"
)

// Directory is the topic metadata surface the handlers use.
type Directory interface {
	List(ctx context.Context) ([]string, error)
	Create(ctx context.Context, name string, partitions int32) error
	Require(ctx context.Context, name string) error
}

// Publisher forwards a single record to the log.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TopicReader performs one bounded read.
type TopicReader interface {
	Read(ctx context.Context, topic string) (consumer.Result, error)
}

type ServerOptions struct {
	Directory         Directory
	Publisher         Publisher
	Reader            TopicReader
	Dispatcher        *bridge.Dispatcher
	DefaultPartitions int32
	MaxBodyBytes      int64
	MetricsPath       string
	Gatherer          prometheus.Gatherer
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

// Serve listens on addr and blocks until ctx ends and in-flight requests
// have drained, or the listener fails.
func Serve(ctx context.Context, addr string, opts ServerOptions) error {
	logger := loggerOrDefault(opts.Logger)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	readHeaderTimeout := opts.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Handler:           NewMux(opts),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewMux constructs the gateway HTTP mux with the supplied dependencies.
func NewMux(opts ServerOptions) http.Handler {
	if opts.DefaultPartitions <= 0 {
		opts.DefaultPartitions = metadata.DefaultPartitions
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{opts: opts, logger: loggerOrDefault(opts.Logger).With("component", "http")}

	topics := http.NewServeMux()
	topics.Handle("/topics", h.instrument("topics", h.handleTopics))
	topics.Handle("/topics/", h.instrument("topic", h.handleTopic))

	mux := http.NewServeMux()
	mux.Handle("/topics", topics)
	mux.Handle("/topics/", topics)
	mux.Handle("/api/topics", http.StripPrefix("/api", topics))
	mux.Handle("/api/topics/", http.StripPrefix("/api", topics))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/readyz", h.instrument("readyz", h.handleReady))
	mux.Handle(opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

type handlers struct {
	opts   ServerOptions
	logger *slog.Logger
}

type createTopicRequest struct {
	Topic      string `json:"topic"`
	Partitions *int32 `json:"partitions,omitempty"`
}

func (h *handlers) handleTopics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTopics(w, r)
	case http.MethodPost:
		h.createTopic(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *handlers) handleTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimPrefix(r.URL.Path, "/topics/")
	switch r.Method {
	case http.MethodGet:
		h.readTopic(w, r, topic)
	case http.MethodPost:
		h.publish(w, r, topic)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *handlers) listTopics(w http.ResponseWriter, r *http.Request) {
	names, err := h.opts.Directory.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *handlers) createTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, r, apierr.MalformedBody(err))
		return
	}
	partitions := h.opts.DefaultPartitions
	if req.Partitions != nil {
		partitions = *req.Partitions
	}
	h.logger.Info("create topic requested", "topic", req.Topic, "partitions", partitions)
	if err := h.opts.Directory.Create(r.Context(), req.Topic, partitions); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *handlers) publish(w http.ResponseWriter, r *http.Request, topic string) {
	if err := metadata.ValidateTopicName(topic); err != nil {
		h.writeError(w, r, err)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		h.writeError(w, r, apierr.MalformedBody(err))
		return
	}
	if len(payload) == 0 {
		h.writeError(w, r, apierr.New(apierr.InvalidArgument, "message body is empty"))
		return
	}
	if err := h.opts.Publisher.Publish(r.Context(), topic, payload); err != nil {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		h.writeError(w, r, err)
		return
	}
	metrics.PublishTotal.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusCreated)
}

// readTopic validates and existence-checks synchronously, then hands the
// bounded read to the dispatcher. If the client leaves first, the session
// still runs to completion and tears down; only the response is dropped.
func (h *handlers) readTopic(w http.ResponseWriter, r *http.Request, topic string) {
	if err := metadata.ValidateTopicName(topic); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.opts.Directory.Require(r.Context(), topic); err != nil {
		h.writeError(w, r, err)
		return
	}

	pending := bridge.Go(h.opts.Dispatcher, func(ctx context.Context) (consumer.Result, error) {
		metrics.ReadSessionsActive.Inc()
		defer metrics.ReadSessionsActive.Dec()
		res, err := h.opts.Reader.Read(ctx, topic)
		if err != nil {
			metrics.ReadSessions.WithLabelValues("error").Inc()
			return res, err
		}
		metrics.ReadSessions.WithLabelValues(res.End.String()).Inc()
		metrics.RecordsRead.Add(float64(len(res.Messages)))
		return res, nil
	})

	select {
	case <-pending.Done():
	case <-r.Context().Done():
		h.logger.Debug("client left before read finished", "topic", topic)
		return
	}
	res, err := pending.Wait(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Messages)
}

func (h *handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.opts.Directory.List(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "metadata store unavailable"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// instrument records request counts and latency under a fixed route label.
func (h *handlers) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("encode response", "error", err)
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
