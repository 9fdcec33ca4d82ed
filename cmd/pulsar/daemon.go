package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pulsar cache daemon",
		Long:  "Serve the cache over HTTP with health, metrics, and optional tracing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.Init(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.Init(cfg.Observability.Metrics.Namespace, nil)
			}

			store, closeFn, err := openCache(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			c := store
			if cfg.Observability.Metrics.Enabled {
				c = metrics.NewInstrumented(store, cfg.Backend)
			}
			collector, _ := store.(cache.Collector)

			srv := newServer(c, collector)
			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: observability.Middleware(srv.routes()),
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("pulsar daemon started",
					"addr", cfg.Daemon.HTTPAddr, "backend", cfg.Backend, "mode", cfg.Mode)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				logging.Op().Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8480", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

type server struct {
	cache cache.Cache
	// collector is the raw backend's sweep capability, nil when the
	// backend (e.g. Redis) expires entries natively.
	collector cache.Collector
}

func newServer(c cache.Cache, collector cache.Collector) *server {
	return &server{cache: c, collector: collector}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/keys/", s.handleKey)
	mux.HandleFunc("/v1/mget", s.handleMGet)
	mux.HandleFunc("/v1/mset", s.handleMSet)
	mux.HandleFunc("/v1/mdelete", s.handleMDelete)
	mux.HandleFunc("/v1/clear", s.handleClear)
	mux.HandleFunc("/v1/gc", s.handleGC)
	return s.logRequests(mux)
}

// logRequests tags each request with a uuid and records method, path, status,
// and latency.
func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		requestID := uuid.New().String()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Op().Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps cache error kinds to HTTP statuses: invalid keys are the
// caller's fault (400), storage faults are upstream failures (502).
func writeError(w http.ResponseWriter, err error) {
	var ike *cache.InvalidKeyError
	if errors.As(err, &ike) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

type setRequest struct {
	Value      any    `json:"value"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty"`
}

func requestTTL(seconds *int64) cache.TTL {
	if seconds == nil {
		return cache.NoExpiry()
	}
	return cache.ExpiresSeconds(*seconds)
}

func (s *server) handleKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/keys/")
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		v, err := s.cache.Get(ctx, key, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})

	case http.MethodHead:
		has, err := s.cache.Has(ctx, key)
		if err != nil || !has {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodPut:
		var req setRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
			return
		}
		ok, err := s.cache.Set(ctx, key, req.Value, requestTTL(req.TTLSeconds))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok})

	case http.MethodDelete:
		ok, err := s.cache.Delete(ctx, key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *server) handleMGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Keys    []string `json:"keys"`
		Default any      `json:"default"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	out, err := s.cache.GetMulti(r.Context(), req.Keys, req.Default)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": out})
}

func (s *server) handleMSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Values     map[string]any `json:"values"`
		TTLSeconds *int64         `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	ok, err := s.cache.SetMulti(r.Context(), req.Values, requestTTL(req.TTLSeconds))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func (s *server) handleMDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	ok, err := s.cache.DeleteMulti(r.Context(), req.Keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ok, err := s.cache.Clear(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func (s *server) handleGC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.collector == nil {
		writeJSON(w, http.StatusOK, map[string]any{"removed": 0, "supported": false})
		return
	}
	n, err := s.collector.GC(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "supported": true})
}
