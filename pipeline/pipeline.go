package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dcshock/defsync/definition"
	"golang.org/x/sync/errgroup"
)

// Config gathers the per-stage settings.
type Config struct {
	Sync    SyncConfig
	Ingest  IngestConfig
	Publish PublishConfig
}

// Pipeline wires the sync, ingest and publish stages through their cells:
// sync | ingest | publish.
type Pipeline struct {
	Sync    *SyncStage
	Ingest  *IngestStage
	Publish *PublishStage
	logger  *slog.Logger
}

// New builds the three stages sharing opts.
func New(source SourceSync, parser DefinitionParser, publisher Publisher, encoder Encoder, cfg Config, opts *Options) *Pipeline {
	o := opts.withDefaults()
	syncStage := NewSyncStage(source, cfg.Sync, &o)
	ingest := NewIngestStage(parser, syncStage.State(), cfg.Ingest, &o)
	publish := NewPublishStage(publisher, encoder, ingest.State(), cfg.Publish, &o)
	return &Pipeline{Sync: syncStage, Ingest: ingest, Publish: publish, logger: o.Logger}
}

// Run supervises the three stages until ctx ends or one of them fails
// fatally. The first fatal error cancels the other stages and is returned;
// a clean shutdown returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("stage %s: %w", name, err)
			}
			return nil
		})
	}
	run(StageSync, p.Sync.Run)
	run(StageIngest, p.Ingest.Run)
	run(StagePublish, p.Publish.Run)
	p.logger.Info("pipeline started")
	err := g.Wait()
	if err != nil {
		p.logger.Error("pipeline stopped", "error", err)
		return err
	}
	p.logger.Info("pipeline stopped")
	return nil
}

// Status is a point-in-time view of every stage.
type Status struct {
	Sync          StageState[VersionID]
	Ingest        StageState[*definition.Set]
	Connected     bool
	LastPublished *Publication
}

// Status snapshots the stages.
func (p *Pipeline) Status() Status {
	st := Status{
		Sync:      p.Sync.State().Snapshot(),
		Ingest:    p.Ingest.State().Snapshot(),
		Connected: p.Publish.Connected(),
	}
	if last, ok := p.Publish.LastPublished(); ok {
		st.LastPublished = &last
	}
	return st
}
