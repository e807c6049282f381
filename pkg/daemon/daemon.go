package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/reqlog/pkg/core"
	"github.com/modoterra/reqlog/pkg/eventlog"
	"github.com/modoterra/reqlog/pkg/store"
	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// Daemon is the reqlogd process: it owns the event log, its durable store and
// the capture sources, and serves them over the control socket.
//
// Every log operation runs under mu, so capture deliveries and commands are
// applied one at a time and each completes (including its Save) before the
// next starts. Capture start/stop is serialized separately under capMu, which
// is never held while waiting on mu.
type Daemon struct {
	server  *uds.Server
	log     *eventlog.Log
	store   store.Store
	version string
	logger  *slog.Logger

	mu           sync.Mutex
	pending      *eventlog.Change
	persistError string

	capMu     sync.Mutex
	sources   []*sourceEntry
	capturing bool

	notifyInterval time.Duration
	rehydrate      sync.Once
}

type sourceEntry struct {
	kind        string
	src         core.CaptureSource
	active      bool
	unavailable string
	// gen counts successful registrations so a watcher of an earlier one
	// cannot clear a later one.
	gen uint64
}

// New creates a daemon serving socketPath with a log of the given capacity.
func New(socketPath string, st store.Store, capacity int, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		server:         uds.NewServer(socketPath, logger),
		log:            eventlog.New(capacity),
		store:          st,
		version:        "dev",
		logger:         logger,
		notifyInterval: DefaultNotifyInterval,
	}
	d.log.Subscribe(d.onChange)
	d.registerHandlers()
	return d
}

// AddSource registers a capture source. Sources are started by StartCapture.
func (d *Daemon) AddSource(kind string, src core.CaptureSource) {
	d.capMu.Lock()
	d.sources = append(d.sources, &sourceEntry{kind: kind, src: src})
	d.capMu.Unlock()
}

// SetNotifyInterval sets the minimum gap between log.changed broadcasts.
func (d *Daemon) SetNotifyInterval(interval time.Duration) {
	if interval > 0 {
		d.notifyInterval = interval
	}
}

// SetVersion sets the version reported by Status.
func (d *Daemon) SetVersion(v string) {
	d.version = v
}

// Run restores the persisted log, then serves until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.Rehydrate(ctx)
	go NewNotifyLoop(d, d.notifyInterval, d.logger).Run(ctx)
	return d.server.Start(ctx)
}

// Shutdown stops capture and closes the control socket.
func (d *Daemon) Shutdown() {
	d.StopCapture(context.Background())
	d.server.Shutdown()
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodSnapshot, d.handleSnapshot)
	d.server.Handle(uds.MethodStartCapture, d.handleStartCapture)
	d.server.Handle(uds.MethodStopCapture, d.handleStopCapture)
	d.server.Handle(uds.MethodSetCapacity, d.handleSetCapacity)
	d.server.Handle(uds.MethodClear, d.handleClear)
	d.server.Handle(uds.MethodExportCSV, d.handleExportCSV)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

func (d *Daemon) handleStatus(_ context.Context, _ uds.Message) (any, error) {
	return d.Status(), nil
}

func (d *Daemon) handleSnapshot(_ context.Context, _ uds.Message) (any, error) {
	return d.Snapshot(), nil
}

func (d *Daemon) handleStartCapture(ctx context.Context, _ uds.Message) (any, error) {
	return d.StartCapture(ctx), nil
}

func (d *Daemon) handleStopCapture(ctx context.Context, _ uds.Message) (any, error) {
	return d.StopCapture(ctx), nil
}

func (d *Daemon) handleSetCapacity(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.SetCapacityRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return d.SetCapacity(ctx, req.Capacity), nil
}

func (d *Daemon) handleClear(ctx context.Context, _ uds.Message) (any, error) {
	return d.Clear(ctx), nil
}

func (d *Daemon) handleExportCSV(_ context.Context, _ uds.Message) (any, error) {
	return d.ExportCSV(), nil
}
