// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command slurmctld is the cluster workload controller daemon: it loads
// the node/partition topology, wires the scheduling engine, and serves
// the RPC surface internal/rpc exposes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/slurmctld/core/internal/accounting"
	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/capability"
	"github.com/slurmctld/core/internal/config"
	"github.com/slurmctld/core/internal/engine"
	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/reservation"
	"github.com/slurmctld/core/internal/rpc"
	"github.com/slurmctld/core/internal/state"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/usage"
	"github.com/slurmctld/core/pkg/auth"
	"github.com/slurmctld/core/pkg/logging"
	"github.com/slurmctld/core/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "/etc/slurm/slurmctld.yaml", "path to the controller's YAML config surface")
	accountingURL := flag.String("accounting-url", "", "accounting store endpoint; empty uses the in-memory reference store")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	log := logging.NewLogger(&logging.Config{
		Level:   0,
		Format:  logging.Format(*logFormat),
		Output:  os.Stdout,
		Version: "dev",
	})

	d, err := newDaemon(*configPath, *accountingURL, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// daemon bundles every long-lived component cmd/slurmctld wires:
// topology registries, the scheduling engine, the accounting worker, and
// the RPC server. It exists mainly to give reconfigure/shutdown a
// receiver that closes over the same state the HTTP handlers do.
type daemon struct {
	cfg        *config.Config
	configPath string
	log        logging.Logger

	nodes   *noderegistry.Registry
	parts   *partregistry.Registry
	tree    *assoc.Tree
	qset    *qos.Set
	jobs    *jobstore.Store
	b       *bus.Bus
	res     *reservation.Registry
	eng     *engine.Engine
	usage   *usage.Store
	metrics metrics.Collector

	worker *accounting.Worker

	httpServer *http.Server

	mu           sync.Mutex
	schedTicker  *time.Ticker
	backTicker   *time.Ticker
	reapTicker   *time.Ticker
	rollupTicker *time.Ticker
}

func newDaemon(configPath, accountingURL string, log logging.Logger) (*daemon, error) {
	cfg := config.NewDefault()
	cfg.Load()
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	d := &daemon{cfg: cfg, configPath: configPath, log: log}
	d.b = bus.New()
	if err := d.buildTopology(d.b); err != nil {
		return nil, err
	}

	d.tree = assoc.New()
	d.qset = qos.New()
	if cfg.DefaultQoS != "" {
		if _, err := d.qset.Create(cfg.DefaultQoS); err != nil {
			return nil, fmt.Errorf("creating default qos: %w", err)
		}
	}
	if _, err := d.tree.Insert(&types.Association{Cluster: "cluster", Account: "root", SharesRaw: 1}); err != nil {
		return nil, fmt.Errorf("seeding root association: %w", err)
	}

	d.jobs = jobstore.New(d.b, cfg.MinJobAge)
	if cfg.AuthKey != "" {
		d.jobs.SetKeySigner(auth.NewHMACKeySigner([]byte(cfg.AuthKey)))
	}
	d.res = reservation.New(d.b)

	var store capability.AccountingStore
	if accountingURL != "" {
		store = accounting.NewHTTPStore(accountingURL, log, metrics.NewInMemoryCollector())
	} else {
		store = accounting.NewMemStore()
	}
	if err := store.Open(context.Background()); err != nil {
		return nil, fmt.Errorf("opening accounting store: %w", err)
	}
	d.worker = accounting.NewWorker(d.b, store, log, 2*time.Second, 100)

	d.usage = usage.New()
	d.metrics = metrics.NewInMemoryCollector()
	d.eng = engine.New(d.nodes, d.parts, d.tree, d.qset, d.jobs, d.b, log)
	d.eng.Reservations = d.res
	d.eng.Usage = d.usage
	d.eng.Metrics = d.metrics

	stores := &state.Stores{Nodes: d.nodes, Parts: d.parts, Assoc: d.tree, QoS: d.qset, Jobs: d.jobs}
	if err := state.LoadAll(cfg.StateSaveDir, stores); err != nil {
		log.Warn("no prior saved state loaded", "error", err)
	}

	server := rpc.NewServer(d.eng, stores, d.reconfigure, d.shutdownRPC, log, d.metrics)
	d.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rpc.NewRouter(server),
	}

	return d, nil
}

// buildTopology constructs the node/partition registries from the
// config's hostlist expressions, attached to b so every later mutation
// (health sweeps, reconfigure) is observable over /watch.
func (d *daemon) buildTopology(b *bus.Bus) error {
	nodes := noderegistry.New(b)
	for _, def := range d.cfg.Nodes {
		names, err := noderegistry.ExpandHostlist(def.NamePattern)
		if err != nil {
			return fmt.Errorf("expanding node pattern %q: %w", def.NamePattern, err)
		}
		for _, name := range names {
			n, err := nodes.Create(name, def.CPUs, def.RealMemory)
			if err != nil {
				return fmt.Errorf("creating node %q: %w", name, err)
			}
			n.CPUSpeed = def.CPUSpeed
			n.VirtMemory = def.VirtMemory
			n.TmpDisk = def.TmpDisk
			n.OSVersion = def.OSVersion
			if len(def.Features) > 0 {
				n.Features = make(map[string]struct{}, len(def.Features))
				for _, f := range def.Features {
					n.Features[f] = struct{}{}
				}
			}
		}
	}

	parts := partregistry.New(b)
	for _, def := range d.cfg.Partitions {
		p, err := parts.Create(def.Name, nodes.Width())
		if err != nil {
			return fmt.Errorf("creating partition %q: %w", def.Name, err)
		}
		p.MaxTime = def.MaxTime
		p.MaxNodes = def.MaxNodes
		p.MinNodes = def.MinNodes
		if len(def.AllowGroups) > 0 {
			p.AllowGroups = make(map[string]struct{}, len(def.AllowGroups))
			for _, g := range def.AllowGroups {
				p.AllowGroups[g] = struct{}{}
			}
		}
		p.RequireKey = def.RequireKey
		if def.Sharing != "" {
			p.Sharing = types.SharingPolicy(def.Sharing)
		}
		p.StateUp = true

		names, err := noderegistry.ExpandHostlist(def.Nodes)
		if err != nil {
			return fmt.Errorf("expanding partition %q node list: %w", def.Name, err)
		}
		for _, name := range names {
			n, ok := nodes.Lookup(name)
			if !ok {
				return fmt.Errorf("partition %q references unknown node %q", def.Name, name)
			}
			if err := parts.AddNode(def.Name, n.Idx); err != nil {
				return fmt.Errorf("adding node %q to partition %q: %w", name, def.Name, err)
			}
		}
		if def.Default {
			if err := parts.SetDefault(def.Name); err != nil {
				return fmt.Errorf("setting default partition %q: %w", def.Name, err)
			}
		}
	}

	d.nodes = nodes
	d.parts = parts
	return nil
}

// run starts the accounting worker, the scheduler/backfill/reap tick
// loops, and the HTTP server, then blocks until ctx is cancelled by
// SIGINT/SIGTERM or the HTTP server fails; a SIGHUP meanwhile triggers a
// reconfigure without ending the wait.
func (d *daemon) run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.worker.Run(ctx)
	}()

	d.startTickers(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hup)
				return
			case <-hup:
				if err := d.reconfigure(ctx); err != nil {
					d.log.Error("reconfigure failed", "error", err)
				}
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		d.log.Info("listening", "addr", d.httpServer.Addr)
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return d.shutdown()
}

func (d *daemon) startTickers(ctx context.Context) {
	d.mu.Lock()
	d.schedTicker = time.NewTicker(d.cfg.SchedulerTick)
	d.backTicker = time.NewTicker(d.cfg.BackfillInterval)
	d.reapTicker = time.NewTicker(d.cfg.MinJobAge)
	d.rollupTicker = time.NewTicker(time.Hour)
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.schedTicker.C:
				now := time.Now()
				for _, name := range d.nodes.SweepNonResponding(now, d.cfg.SlurmdTimeout) {
					d.log.Warn("node not responding", "node", name, "timeout", d.cfg.SlurmdTimeout)
				}
				d.tree.RecomputeFairShare(d.cfg.FairShareDamping)
				d.eng.ScheduleTick(now)
			case <-d.backTicker.C:
				d.eng.BackfillTick(time.Now())
			case <-d.reapTicker.C:
				for _, jobID := range d.jobs.ReapTerminal(time.Now()) {
					d.log.Debug("reaped terminal job", "job_id", jobID)
				}
			case now := <-d.rollupTicker.C:
				d.usage.AggregateDaily(now)
				d.usage.AggregateMonthly(now)
			}
		}
	}()
}

// reconfigure re-reads the config file and env overlay and applies what
// can be changed in place. Topology changes (new nodes/partitions) are
// not applied by a running daemon; only scheduling cadence, state
// directory, and the flags of configured partitions are: every listed
// partition is marked up and its default flag applied; no partition is
// marked down.
func (d *daemon) reconfigure(ctx context.Context) error {
	next := config.NewDefault()
	next.Load()
	if err := next.LoadFile(d.configPath); err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}

	d.mu.Lock()
	d.cfg = next
	if d.schedTicker != nil {
		d.schedTicker.Reset(next.SchedulerTick)
	}
	if d.backTicker != nil {
		d.backTicker.Reset(next.BackfillInterval)
	}
	d.mu.Unlock()

	for _, def := range next.Partitions {
		if err := d.parts.SetUp(def.Name, true); err != nil {
			continue // unknown partitions are additions; topology changes require a restart
		}
		if def.Default {
			_ = d.parts.SetDefault(def.Name)
		}
	}

	d.log.Info("reconfigured")
	return nil
}

// shutdownRPC satisfies rpc.ShutdownFunc: an operator-triggered shutdown
// over the RPC surface saves state and then stops the process the same
// way a SIGTERM would, from a background goroutine so the HTTP response
// can still be written.
func (d *daemon) shutdownRPC(ctx context.Context) error {
	go func() {
		time.Sleep(100 * time.Millisecond)
		proc, err := os.FindProcess(os.Getpid())
		if err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}()
	return nil
}

func (d *daemon) shutdown() error {
	d.log.Info("shutting down")

	d.mu.Lock()
	if d.schedTicker != nil {
		d.schedTicker.Stop()
	}
	if d.backTicker != nil {
		d.backTicker.Stop()
	}
	if d.reapTicker != nil {
		d.reapTicker.Stop()
	}
	if d.rollupTicker != nil {
		d.rollupTicker.Stop()
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(ctx); err != nil {
		d.log.Error("http server shutdown", "error", err)
	}

	stores := state.Stores{Nodes: d.nodes, Parts: d.parts, Assoc: d.tree, QoS: d.qset, Jobs: d.jobs}
	if err := state.SaveAll(d.cfg.StateSaveDir, stores); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	return nil
}
