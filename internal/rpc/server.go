// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the controller's RPC surface: a gorilla/mux
// router and middleware chain over the daemon's handler set, plus a
// gorilla/websocket watch endpoint feeding off the Update Bus.
package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/slurmctld/core/internal/engine"
	"github.com/slurmctld/core/internal/state"
	"github.com/slurmctld/core/pkg/logging"
	"github.com/slurmctld/core/pkg/metrics"
	"github.com/slurmctld/core/pkg/middleware"
)

// ReconfigureFunc reloads the daemon's configuration surface in place.
// It is supplied by cmd/slurmctld, which owns the config file path and
// the component wiring the RPC layer does not.
type ReconfigureFunc func(ctx context.Context) error

// ShutdownFunc begins the daemon's graceful shutdown sequence (state
// save, worker drain). It is supplied by cmd/slurmctld.
type ShutdownFunc func(ctx context.Context) error

// Server holds the dependencies every handler needs: the scheduling
// engine, the save-state bundle for introspection, and the two daemon-
// level control hooks reconfigure/shutdown delegate to.
type Server struct {
	Engine      *engine.Engine
	Stores      *state.Stores
	Reconfigure ReconfigureFunc
	Shutdown    ShutdownFunc

	// Metrics instruments every inbound RPC call (request/response/error
	// counts and latency), the same Collector ScheduleTick/BackfillTick
	// feed scheduler-tick numbers into.
	Metrics metrics.Collector

	log logging.Logger
}

// NewServer constructs a Server. log and collector may both be nil.
func NewServer(e *engine.Engine, stores *state.Stores, reconfigure ReconfigureFunc, shutdown ShutdownFunc, log logging.Logger, collector metrics.Collector) *Server {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Server{Engine: e, Stores: stores, Reconfigure: reconfigure, Shutdown: shutdown, Metrics: collector, log: log.With("component", "rpc")}
}

// NewRouter builds the mux.Router exposing the controller's RPC
// operations: a middleware chain registered with router.Use, then a
// versioned path-prefix subrouter carrying the actual routes. Logging
// and recovery are pkg/middleware's server-side chain; requestIDMiddleware
// and the metrics middleware stay local to this package since they close
// over Server state the generic chain doesn't know about.
func NewRouter(s *Server) *mux.Router {
	router := mux.NewRouter().StrictSlash(false)
	router.Use(s.requestIDMiddleware)
	router.Use(mux.MiddlewareFunc(middleware.WithRecovery(s.log)))
	router.Use(mux.MiddlewareFunc(middleware.WithRequestLogging(s.log)))
	router.Use(s.metricsMiddleware)

	api := router.PathPrefix("/slurmctld/v1").Subrouter()

	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}", s.handleUpdateJob).Methods(http.MethodPatch)
	api.HandleFunc("/jobs/{job_id}", s.handleCancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{job_id}/allocate", s.handleAllocateResources).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/signal", s.handleSignalJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/suspend", s.handleSuspendJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/resume", s.handleResumeJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/complete", s.handleCompleteJob).Methods(http.MethodPost)

	api.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node_name}", s.handleGetNode).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{node_name}", s.handleUpdateNode).Methods(http.MethodPatch)
	api.HandleFunc("/nodes/{node_name}", s.handleRemoveNode).Methods(http.MethodDelete)

	api.HandleFunc("/partitions", s.handleListPartitions).Methods(http.MethodGet)
	api.HandleFunc("/partitions/{partition_name}", s.handleGetPartition).Methods(http.MethodGet)
	api.HandleFunc("/partitions/{partition_name}", s.handleUpdatePartition).Methods(http.MethodPatch)

	api.HandleFunc("/reservations", s.handleListReservations).Methods(http.MethodGet)
	api.HandleFunc("/reservations", s.handleCreateReservation).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{reservation_name}", s.handleGetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{reservation_name}", s.handleDeleteReservation).Methods(http.MethodDelete)

	api.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	api.HandleFunc("/reconfigure", s.handleReconfigure).Methods(http.MethodPost)
	api.HandleFunc("/shutdown", s.handleShutdown).Methods(http.MethodPost)

	api.HandleFunc("/watch", s.handleWatch).Methods(http.MethodGet)

	return router
}

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a correlation ID, so a
// client's retries and the daemon's own logs can be joined up.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// metricsMiddleware records every inbound RPC call's request/response
// counters and latency into s.Metrics.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.RecordRequest(r.Method, r.URL.Path)
		start := time.Now()
		rec := &middleware.StatusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.Metrics.RecordResponse(r.Method, r.URL.Path, rec.Status, time.Since(start))
	})
}
