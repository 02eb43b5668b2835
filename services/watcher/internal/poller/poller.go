package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/diff"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/kafka"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/metrics"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/snapshot"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/storage"
)

// state names the poller's position in its loop. Transitions are
// idle -> fetching -> diffing -> dispatching -> idle, with any stage
// failure going straight back to idle.
type state string

const (
	stateIdle        state = "idle"
	stateFetching    state = "fetching"
	stateDiffing     state = "diffing"
	stateDispatching state = "dispatching"
)

// RegistryLister is the poller's view of the registry client.
type RegistryLister interface {
	ListServers(ctx context.Context) ([]model.Server, error)
}

// Poller drives the fetch -> snapshot -> diff -> dispatch cycle on a fixed
// interval. It owns snapshot and change creation.
type Poller struct {
	registry RegistryLister
	builder  *snapshot.Builder
	store    storage.SnapshotStorage
	producer kafka.ChangeProducer
	interval time.Duration
	logger   *slog.Logger

	state state
	last  *model.Snapshot
}

func NewPoller(
	registry RegistryLister,
	builder *snapshot.Builder,
	store storage.SnapshotStorage,
	producer kafka.ChangeProducer,
	interval time.Duration,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		registry: registry,
		builder:  builder,
		store:    store,
		producer: producer,
		interval: interval,
		logger:   logger.With("component", "poller"),
		state:    stateIdle,
	}
}

// Run loops until the context is cancelled, at which point it returns the
// context's error so callers can tell a deliberate shutdown from a fault.
// Stage failures are logged and scoped to the tick; they never stop the
// loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Poller started", slog.Duration("interval", p.interval))

	// One immediate tick so a fresh process observes the registry right
	// away instead of waiting a full interval.
	if err := p.tick(ctx); err != nil && !isCancellation(err) {
		p.logger.Error("Poll tick failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				if isCancellation(err) {
					continue
				}
				metrics.PollCycles.WithLabelValues("error").Inc()
				p.logger.Error("Poll tick failed", slog.Any("error", err))
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	defer p.transition(stateIdle)

	p.transition(stateFetching)
	servers, err := p.registry.ListServers(ctx)
	if err != nil {
		return err
	}

	current, err := p.builder.Create(servers)
	if err != nil {
		return err
	}
	metrics.SnapshotServers.Set(float64(current.ServerCount))

	previous, err := p.lastSnapshot(ctx)
	if err != nil {
		return err
	}

	if previous == nil {
		// First observation: persist as baseline, nothing to diff against.
		if err := p.store.SaveSnapshot(ctx, current, nil); err != nil {
			return err
		}
		p.last = current
		metrics.PollCycles.WithLabelValues("baseline").Inc()
		p.logger.Info("Baseline snapshot persisted",
			slog.String("snapshot_id", current.ID),
			slog.Int("servers", current.ServerCount))
		return nil
	}

	if !snapshot.HasChanges(previous, current) {
		if err := p.store.MarkObserved(ctx, previous.ID, current.Timestamp); err != nil {
			return err
		}
		metrics.PollCycles.WithLabelValues("unchanged").Inc()
		p.logger.Debug("Registry unchanged", slog.String("hash", current.Hash))
		return nil
	}

	p.transition(stateDiffing)
	result := diff.Compare(previous, current)
	if result.Empty() {
		// Hash differs but no structural change surfaced; treat as
		// unchanged rather than persisting an identical snapshot.
		if err := p.store.MarkObserved(ctx, previous.ID, current.Timestamp); err != nil {
			return err
		}
		metrics.PollCycles.WithLabelValues("unchanged").Inc()
		return nil
	}

	changes := result.All()
	if err := p.store.SaveSnapshot(ctx, current, changes); err != nil {
		return err
	}
	p.last = current

	p.transition(stateDispatching)
	for _, c := range changes {
		metrics.ChangesDetected.WithLabelValues(string(c.Type)).Inc()
		if err := p.producer.Publish(ctx, p.toEvent(c, previous, current)); err != nil {
			// The change row is already persisted; only the push path
			// for this event is lost.
			p.logger.Error("Failed to publish change event",
				slog.String("server", c.ServerName),
				slog.Any("error", err))
			if isCancellation(err) {
				return err
			}
		}
	}

	metrics.PollCycles.WithLabelValues("changed").Inc()
	p.logger.Info("Poll cycle complete",
		slog.String("snapshot_id", current.ID),
		slog.Int("new", len(result.NewServers)),
		slog.Int("updated", len(result.UpdatedServers)),
		slog.Int("removed", len(result.RemovedServers)))
	return nil
}

// lastSnapshot returns the in-memory copy when available, falling back to
// storage (process restart), or nil when nothing has been persisted yet.
func (p *Poller) lastSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if p.last != nil {
		return p.last, nil
	}
	snap, err := p.store.GetLatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			return nil, nil
		}
		return nil, err
	}
	p.last = snap
	return snap, nil
}

// toEvent flattens a change into the wire event, resolving the server
// description from whichever snapshot still carries the server.
func (p *Poller) toEvent(c model.Change, previous, current *model.Snapshot) model.ChangeEvent {
	description := ""
	if s, ok := current.Servers[c.ServerName]; ok {
		description = s.Description
	} else if s, ok := previous.Servers[c.ServerName]; ok {
		description = s.Description
	}

	return model.ChangeEvent{
		ChangeID:        c.ID,
		SnapshotID:      c.SnapshotID,
		ServerName:      c.ServerName,
		Description:     description,
		ChangeType:      string(c.Type),
		PreviousVersion: c.PreviousVersion,
		NewVersion:      c.NewVersion,
		Breaking:        c.Breaking,
		FieldChanges:    c.FieldChanges,
		DetectedAt:      c.DetectedAt,
	}
}

func (p *Poller) transition(next state) {
	if p.state != next {
		p.logger.Debug("State transition",
			slog.String("from", string(p.state)),
			slog.String("to", string(next)))
		p.state = next
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
