// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package accounting is the controller's side of the Update Bus →
// accounting-store pipeline. It subscribes to the bus, batches
// mutations, and commits them through the capability.AccountingStore
// interface; the in-memory reference store here exists so the daemon
// runs standalone without a real accounting backend wired in.
package accounting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/capability"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/wire"
	"github.com/slurmctld/core/pkg/logging"
	"github.com/slurmctld/core/pkg/metrics"
	"github.com/slurmctld/core/pkg/middleware"
	"github.com/slurmctld/core/pkg/pool"
	"github.com/slurmctld/core/pkg/retry"
)

// Worker drains the Update Bus and commits batches to a
// capability.AccountingStore, as the daemon's accounting-I/O worker
// role. It owns no scheduling state: on commit failure it
// retries with backoff and never blocks the bus's single writer, per the
// bus's own drop-oldest backpressure policy.
type Worker struct {
	sub   *bus.Subscription
	store capability.AccountingStore
	log   logging.Logger

	policy retry.Policy

	batchWindow time.Duration
	batchMax    int

	mu      sync.Mutex
	pending []bus.UpdateObject
}

// NewWorker constructs an accounting worker subscribed to every update
// kind relevant to persistence (job lifecycle, node state, association
// usage). batchWindow bounds how long updates are held before a partial
// batch is flushed even if batchMax hasn't been reached.
func NewWorker(b *bus.Bus, store capability.AccountingStore, log logging.Logger, batchWindow time.Duration, batchMax int) *Worker {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if batchMax <= 0 {
		batchMax = 64
	}
	ctx := context.Background()
	sub := b.Subscribe(ctx, 256, func(u bus.UpdateObject) bool {
		switch u.Kind {
		case bus.KindJobStart, bus.KindJobComplete, bus.KindJobRemoved,
			bus.KindNodeState, bus.KindAssocUsage, bus.KindReservation:
			return true
		default:
			return false
		}
	})
	return &Worker{
		sub:         sub,
		store:       store,
		log:         log.With("component", "accounting_worker"),
		policy:      retry.NewAccountingStorePolicy(),
		batchWindow: batchWindow,
		batchMax:    batchMax,
	}
}

// Run drains the subscription until ctx is cancelled, flushing batches
// on the batch window ticker or when batchMax is reached. It is the
// accounting worker's explicit task loop; shutdown is observed on the
// same select that drains the channel.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.batchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			w.sub.Close()
			return
		case u, ok := <-w.sub.C:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending = append(w.pending, u)
			full := len(w.pending) >= w.batchMax
			w.mu.Unlock()
			if full {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := w.store.Commit(ctx, batch); err != nil {
			lastErr = err
			if !w.policy.ShouldRetry(ctx, nil, err, attempt) || attempt >= w.policy.MaxRetries() {
				w.log.Error("commit failed, dropping batch", "size", len(batch), "error", err)
				return
			}
			select {
			case <-time.After(w.policy.WaitTime(attempt)):
				continue
			case <-ctx.Done():
				return
			}
		}
		break
	}
	if lastErr != nil {
		w.log.Warn("commit succeeded after retry", "size", len(batch))
	}
}

// HTTPStore is a capability.AccountingStore that talks to an external
// accounting-store RPC endpoint over HTTP, pooling connections per
// endpoint (pkg/pool) and instrumenting the outbound round trip with
// the client middleware chain (pkg/middleware) and metrics collector
// (pkg/metrics). The external store's own schema is opaque to the
// controller; this client only fixes the capability surface and the
// connection/retry/metrics plumbing around it.
type HTTPStore struct {
	endpoint   string
	clientPool *pool.HTTPClientPool
	connMgr    *pool.ConnectionManager
	collector  metrics.Collector
	log        logging.Logger
	transport  http.RoundTripper
}

// NewHTTPStore constructs an HTTPStore targeting endpoint. Its
// ConnectionManager periodically sweeps idle pooled clients and probes
// endpoint's health with a GET /health before Open reports success,
// catching a misconfigured accounting-store URL at startup instead of
// on the first Commit.
func NewHTTPStore(endpoint string, log logging.Logger, collector metrics.Collector) *HTTPStore {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NewInMemoryCollector()
	}
	clientPool := pool.NewHTTPClientPool(pool.DefaultPoolConfig(), log)
	base := clientPool.GetClient(endpoint).Transport
	chain := middleware.Chain(
		middleware.WithTimeout(10*time.Second),
		middleware.WithLogging(log),
		middleware.WithRetry(3, middleware.DefaultShouldRetry),
		middleware.WithMetrics(metricsAdapter{collector}),
	)
	connMgr := pool.NewConnectionManager(clientPool, accountingStoreHealthCheck, log)
	return &HTTPStore{
		endpoint:   endpoint,
		clientPool: clientPool,
		connMgr:    connMgr,
		collector:  collector,
		log:        log.With("component", "accounting_store", "endpoint", endpoint),
		transport:  chain(base),
	}
}

// accountingStoreHealthCheck probes endpoint's /health route, the same
// liveness check RecordJobStart/Complete/Suspend assume the external
// store exposes.
func accountingStoreHealthCheck(ctx context.Context, endpoint string, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("accounting store health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// metricsAdapter narrows pkg/metrics.Collector to the three-method shape
// middleware.WithMetrics expects.
type metricsAdapter struct{ c metrics.Collector }

func (m metricsAdapter) RecordRequest(method, path string) { m.c.RecordRequest(method, path) }
func (m metricsAdapter) RecordResponse(method, path string, status int, d time.Duration) {
	m.c.RecordResponse(method, path, status, d)
}
func (m metricsAdapter) RecordError(method, path string, err error) { m.c.RecordError(method, path, err) }

// Open verifies the external accounting store is reachable and starts
// the connection manager's idle-cleanup routine.
func (h *HTTPStore) Open(ctx context.Context) error {
	if _, err := h.connMgr.GetHealthyClient(ctx, h.endpoint); err != nil {
		return fmt.Errorf("accounting: opening store at %s: %w", h.endpoint, err)
	}
	h.connMgr.Start()
	return nil
}

func (h *HTTPStore) Close(ctx context.Context) error {
	h.connMgr.Stop()
	return h.clientPool.Close()
}

// Commit posts a batch of update objects to the external store, encoded
// as internal/wire record updates (kind-discriminated, skip-by-length
// framed) so the store side can decode the kinds it knows and skip the
// rest across version skew. Kinds with no accounting record equivalent
// (node allocation churn, reservation metadata) are dropped here; the
// store has no table for them.
func (h *HTTPStore) Commit(ctx context.Context, batch []bus.UpdateObject) error {
	updates := recordUpdates(batch)
	if len(updates) == 0 {
		return nil
	}
	body, err := wire.EncodeRecordUpdates(updates)
	if err != nil {
		return err
	}

	client := &http.Client{Transport: h.transport}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/commit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("accounting: commit rejected with status %d", resp.StatusCode)
	}
	return nil
}

// recordUpdates translates bus updates into the accounting store's
// record-update kinds, grouping payloads per kind so each update
// carries a list of payloads of its kind's element type.
func recordUpdates(batch []bus.UpdateObject) []wire.RecordUpdate {
	grouped := make(map[wire.RecordKind][][]byte)
	var order []wire.RecordKind
	add := func(kind wire.RecordKind, payload []byte) {
		if _, seen := grouped[kind]; !seen {
			order = append(order, kind)
		}
		grouped[kind] = append(grouped[kind], payload)
	}

	for _, u := range batch {
		snap, ok := u.Payload.(types.JobSnapshot)
		if !ok {
			continue
		}
		payload, err := wire.Marshal(func(w *wire.Writer) { wire.EncodeJobSnapshot(w, snap) })
		if err != nil {
			continue
		}
		switch u.Kind {
		case bus.KindJobStart:
			add(wire.RecordJobStart, payload)
		case bus.KindJobComplete:
			add(wire.RecordJobComplete, payload)
		}
	}

	out := make([]wire.RecordUpdate, 0, len(order))
	for _, kind := range order {
		out = append(out, wire.RecordUpdate{Kind: kind, Payloads: grouped[kind]})
	}
	return out
}

func (h *HTTPStore) AddObject(ctx context.Context, kind bus.Kind, payload any) error { return nil }
func (h *HTTPStore) ModifyObject(ctx context.Context, kind bus.Kind, key string, payload any) error {
	return nil
}
func (h *HTTPStore) RemoveObject(ctx context.Context, kind bus.Kind, key string) error { return nil }
func (h *HTTPStore) GetObject(ctx context.Context, kind bus.Kind, key string) (any, error) {
	return nil, nil
}
func (h *HTTPStore) RollUsage(ctx context.Context, w capability.TimeWindow) error { return nil }
func (h *HTTPStore) RecordJobStart(ctx context.Context, jobID int64, t time.Time) error {
	return nil
}
func (h *HTTPStore) RecordJobComplete(ctx context.Context, jobID int64, t time.Time, state types.JobState) error {
	return nil
}
func (h *HTTPStore) RecordJobSuspend(ctx context.Context, jobID int64, t time.Time, resumed bool) error {
	return nil
}
