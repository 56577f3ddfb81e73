// Package daemon drives the decision core: it drains raw events from the
// interception layer, normalizes them into canonical events, runs the
// access pipeline, and keeps per-pip process trees current. Events are
// sharded to workers by pid, so delivery stays serialized per process and
// concurrent across processes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/canon"
	"github.com/majorcontext/rampart/internal/config"
	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/log"
	"github.com/majorcontext/rampart/internal/manifest"
	"github.com/majorcontext/rampart/internal/registry"
)

// Shape tells the daemon which canonical-event constructor a raw event
// needs: the interception layer knows the syscall family it came from.
type Shape int

const (
	ShapeAbsolute Shape = iota
	ShapeRelative
	ShapeFD
	ShapeProcess // fork and exit
)

// RawEvent is one OS-level observation as delivered by the interception
// layer, tagged with the pip session it belongs to.
type RawEvent struct {
	PipID    string
	Kind     event.Kind
	Shape    Shape
	Pid      int
	ChildPid int
	Errno    unix.Errno
	Src      event.PathArg
	Dst      event.PathArg
	SrcFD    int
	DstFD    int
	Mode     uint32
	ExecPath string
}

// Source delivers raw events. The channel closing means the interception
// layer has shut down.
type Source interface {
	Events() <-chan RawEvent
}

// CompletionSink receives pip-completion notifications.
type CompletionSink interface {
	ReportTreeCompleted(pipID string, rootPID int) access.ReportResult
}

// Daemon owns the shared collaborators and the worker pool.
type Daemon struct {
	cfg      *config.Config
	registry *registry.Registry
	sink     access.Sink
	complete CompletionSink
	canon    canon.Canonicalizer
	resolver canon.Resolver
	stats    *access.Stats

	index atomic.Pointer[manifest.Index]
}

// New creates a daemon. The initial manifest is loaded from cfg.Manifest;
// a load failure is fatal here, while later reload failures keep the
// previous manifest.
func New(cfg *config.Config, sink access.Sink, complete CompletionSink) (*Daemon, error) {
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		registry: registry.New(),
		sink:     sink,
		complete: complete,
		canon:    canon.Canonicalizer{OverlayPrefix: cfg.OverlayPrefix},
		resolver: canon.OSResolver{},
		stats:    &access.Stats{},
	}
	d.index.Store(manifest.Compile(m))
	return d, nil
}

// Stats exposes the pipeline counters.
func (d *Daemon) Stats() *access.Stats { return d.stats }

// Registry exposes the process table, for orchestrator integration.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

func (d *Daemon) pipFlags() access.Flags {
	var flags access.Flags
	if d.cfg.Enforcement.FailOnDenied {
		flags |= access.FlagFailOnDenied
	}
	if d.cfg.Enforcement.ReportAllowed {
		flags |= access.FlagReportAllowed
	}
	return flags
}

// RegisterPip starts tracking a build step. The pip snapshots the manifest
// in force at registration; reloads apply to pips registered afterwards.
func (d *Daemon) RegisterPip(id string, rootPID, treeSize int) error {
	_, err := d.registry.AddPip(id, rootPID, treeSize, d.pipFlags(), d.index.Load(), func(p *registry.Pip) {
		log.Info("pip tree completed", "pip", p.ID(), "root_pid", p.RootPID())
		if d.complete != nil {
			d.complete.ReportTreeCompleted(p.ID(), p.RootPID())
		}
	})
	if err != nil {
		return err
	}
	log.Debug("pip registered", "pip", id, "root_pid", rootPID, "tree_size", treeSize)
	return nil
}

// Run drains the source until it closes or the context is canceled.
func (d *Daemon) Run(ctx context.Context, src Source) error {
	g, ctx := errgroup.WithContext(ctx)

	workers := d.cfg.Workers
	shards := make([]chan RawEvent, workers)
	for i := range shards {
		shards[i] = make(chan RawEvent, 64)
	}

	// Dispatcher: per-pid ordering is preserved by pinning a pid to one
	// shard.
	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case raw, ok := <-src.Events():
				if !ok {
					return nil
				}
				shard := shards[shardFor(raw.Pid, workers)]
				select {
				case <-ctx.Done():
					return ctx.Err()
				case shard <- raw:
				}
			}
		}
	})

	for i := 0; i < workers; i++ {
		ch := shards[i]
		g.Go(func() error {
			for raw := range ch {
				d.handle(raw)
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info("event pump stopped",
		"lookups", d.stats.Lookups.Load(),
		"cache_hits", d.stats.CacheHits.Load(),
		"reported", d.stats.Reported.Load(),
		"skipped", d.stats.Skipped.Load(),
		"report_failures", d.stats.ReportFailures.Load())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func shardFor(pid, workers int) int {
	if pid < 0 {
		pid = -pid
	}
	return pid % workers
}

// handle processes one raw event. Errors here are operational, not fatal:
// the pump keeps draining.
func (d *Daemon) handle(raw RawEvent) {
	switch raw.Kind {
	case event.OpFork:
		d.handleFork(raw)
	case event.OpExit:
		d.handleExit(raw)
	default:
		d.handleAccess(raw)
	}
}

func (d *Daemon) handleFork(raw RawEvent) {
	ev := event.NewFork(raw.Pid, raw.ChildPid, raw.ExecPath)
	if !ev.Valid() {
		log.Warn("dropping malformed fork event", "pid", raw.Pid)
		return
	}
	// The parent itself may be a child we have not seen spawn yet.
	if err := d.registry.Adopt(raw.PipID, raw.Pid); err != nil {
		log.Warn("fork for unknown pip", "pip", raw.PipID, "pid", raw.Pid, "error", err)
		return
	}
	if err := d.registry.Spawn(raw.PipID, raw.ChildPid); err != nil {
		log.Warn("spawn registration failed", "pip", raw.PipID, "child", raw.ChildPid, "error", err)
		return
	}
	log.Debug("child spawned", "pip", raw.PipID, "pid", raw.Pid, "child", raw.ChildPid)
}

func (d *Daemon) handleExit(raw RawEvent) {
	// An exit may outrun its spawn registration; admit first so the tree
	// still accounts for the pid.
	if err := d.registry.Adopt(raw.PipID, raw.Pid); err != nil {
		log.Debug("exit for unknown pip", "pip", raw.PipID, "pid", raw.Pid)
		return
	}
	d.registry.Exited(raw.Pid)
}

func (d *Daemon) handleAccess(raw RawEvent) {
	ev := d.buildEvent(raw)
	if !ev.Valid() {
		log.Warn("dropping malformed event", "pip", raw.PipID, "pid", raw.Pid, "kind", raw.Kind.String())
		return
	}
	if raw.Mode != 0 {
		ev.SetMode(raw.Mode)
	}

	h := access.NewHandler(d.registry, d.canon, d.resolver, d.sink, d.stats)
	check, err := h.HandleEvent(ev)
	if errors.Is(err, access.ErrUntrackedProcess) {
		// First access from a child whose spawn notification is still in
		// flight: admit it and retry once.
		if aerr := d.registry.Adopt(raw.PipID, raw.Pid); aerr != nil {
			log.Warn("access for unknown pip", "pip", raw.PipID, "pid", raw.Pid, "error", aerr)
			return
		}
		retry := d.buildEvent(raw)
		if raw.Mode != 0 {
			retry.SetMode(raw.Mode)
		}
		check, err = h.HandleEvent(retry)
	}
	if err != nil {
		log.Debug("event check failed", "pip", raw.PipID, "pid", raw.Pid, "error", err)
		return
	}
	if dec := h.Decide(check); dec != access.Allow {
		log.Debug("access not allowed", "pip", raw.PipID, "pid", raw.Pid, "decision", dec.String())
	}
}

func (d *Daemon) buildEvent(raw RawEvent) *event.Event {
	switch raw.Shape {
	case ShapeRelative:
		return event.NewRelative(raw.Kind, raw.Pid, raw.Errno, raw.Src, raw.SrcFD, raw.Dst, raw.DstFD)
	case ShapeFD:
		return event.NewFD(raw.Kind, raw.Pid, raw.Errno, raw.SrcFD, raw.DstFD)
	default:
		return event.NewAbsolute(raw.Kind, raw.Pid, raw.Errno, raw.Src, raw.Dst)
	}
}
