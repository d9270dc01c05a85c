package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SyncConfig controls the source synchronisation stage.
type SyncConfig struct {
	// UpdateInterval is the period between updates. Zero disables updates
	// after the initial fetch.
	UpdateInterval time.Duration
	// Fetch governs the initial fetch; it should be Fatal.
	Fetch RetryPolicy
	// Update governs periodic updates; it should be Soft.
	Update RetryPolicy
}

// SyncStage obtains the definition source and keeps it current. Its cell is
// available only while the checkout is complete and not being modified.
type SyncStage struct {
	source SourceSync
	cfg    SyncConfig
	opts   Options
	logger *slog.Logger
	cell   *Cell[VersionID]
}

// NewSyncStage returns a stage that is not yet available.
func NewSyncStage(source SourceSync, cfg SyncConfig, opts *Options) *SyncStage {
	o := opts.withDefaults()
	return &SyncStage{
		source: source,
		cfg:    cfg,
		opts:   o,
		logger: o.Logger.With("stage", StageSync),
		cell:   NewCell[VersionID](o.Clock),
	}
}

// State returns the stage's cell.
func (s *SyncStage) State() *Cell[VersionID] { return s.cell }

// Run fetches the source, then updates it every UpdateInterval until ctx
// ends. It returns nil on cancellation and a FatalError if the initial fetch
// gives up.
func (s *SyncStage) Run(ctx context.Context) error {
	if err := s.fetch(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if s.cfg.UpdateInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := s.opts.Clock.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.update(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (s *SyncStage) fetch(ctx context.Context) error {
	runID := uuid.NewString()
	start := s.opts.Clock.Now()
	var version VersionID
	err := s.cfg.Fetch.Do(ctx, s.opts.Clock, s.logger, "sync fetch", func(ctx context.Context, _ int) error {
		v, err := s.source.Fetch(ctx)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("source fetched", "run_id", runID, "version", version, "took", since(s.opts.Clock, start))
	s.available(ctx, version, runID)
	return nil
}

// update withdraws availability before touching the checkout and restores it
// only once the update succeeded. A soft give-up leaves the stage
// unavailable until the next tick.
func (s *SyncStage) update(ctx context.Context) error {
	runID := uuid.NewString()
	if st, changed := s.cell.MarkUnavailable(runID); changed {
		notify(ctx, s.opts, s.logger, StageEvent{RunID: runID, Stage: StageSync, Version: st.Value, Seq: st.Seq, At: st.ObservedAt})
	}

	var version VersionID
	err := s.cfg.Update.Do(ctx, s.opts.Clock, s.logger, "sync update", func(ctx context.Context, _ int) error {
		v, err := s.source.Update(ctx)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	switch {
	case err == nil:
		s.logger.Info("source updated", "run_id", runID, "version", version)
		s.available(ctx, version, runID)
		return nil
	case IsFatal(err), ctx.Err() != nil:
		return err
	default:
		notify(ctx, s.opts, s.logger, StageEvent{RunID: runID, Stage: StageSync, Seq: s.cell.Snapshot().Seq, At: s.opts.Clock.Now(), Err: err})
		return nil
	}
}

func (s *SyncStage) available(ctx context.Context, version VersionID, runID string) {
	st := s.cell.Publish(version, runID)
	notify(ctx, s.opts, s.logger, StageEvent{RunID: runID, Stage: StageSync, Available: true, Version: version, Seq: st.Seq, At: st.ObservedAt})
}
