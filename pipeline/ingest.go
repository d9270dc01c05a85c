package pipeline

import (
	"context"
	"log/slog"

	"github.com/dcshock/defsync/definition"
)

// IngestConfig controls the ingest stage.
type IngestConfig struct {
	// Root is the definitions directory inside the checkout.
	Root string
}

// IngestStage parses the checkout each time the sync stage becomes
// available. It has no retry of its own: a rejected checkout leaves the
// stage unavailable until the next sync transition.
type IngestStage struct {
	parser   DefinitionParser
	upstream *Cell[VersionID]
	cfg      IngestConfig
	opts     Options
	logger   *slog.Logger
	cell     *Cell[*definition.Set]
}

// NewIngestStage returns a stage reading upstream.
func NewIngestStage(parser DefinitionParser, upstream *Cell[VersionID], cfg IngestConfig, opts *Options) *IngestStage {
	o := opts.withDefaults()
	return &IngestStage{
		parser:   parser,
		upstream: upstream,
		cfg:      cfg,
		opts:     o,
		logger:   o.Logger.With("stage", StageIngest),
		cell:     NewCell[*definition.Set](o.Clock),
	}
}

// State returns the stage's cell.
func (s *IngestStage) State() *Cell[*definition.Set] { return s.cell }

// Current returns the latest valid set, or ErrDefinitionsUnavailable.
func (s *IngestStage) Current() (*definition.Set, error) {
	st := s.cell.Snapshot()
	if !st.Available {
		return nil, ErrDefinitionsUnavailable
	}
	return st.Value, nil
}

// Run reacts to upstream changes until ctx ends. It always returns nil.
func (s *IngestStage) Run(ctx context.Context) error {
	var seen uint64
	for {
		st, err := s.upstream.Wait(ctx, seen)
		if err != nil {
			return nil
		}
		seen = st.Seq
		if !st.Available {
			continue
		}
		s.ingest(ctx, st)
	}
}

func (s *IngestStage) ingest(ctx context.Context, src StageState[VersionID]) {
	logger := s.logger.With("run_id", src.RunID, "version", src.Value)
	set, err := s.parser.ParseAll(ctx, s.cfg.Root, string(src.Value))
	if ctx.Err() != nil {
		return
	}
	// The checkout may have been rewritten under the parser; the newer
	// upstream state is handled by the next Wait.
	if cur := s.upstream.Snapshot(); cur.Seq != src.Seq || !cur.Available {
		logger.Info("checkout changed while parsing, result discarded", "upstream_seq", cur.Seq)
		return
	}
	if err != nil {
		logger.Error("definitions rejected", "error", err)
		if st, changed := s.cell.MarkUnavailable(src.RunID); changed {
			notify(ctx, s.opts, logger, StageEvent{RunID: src.RunID, Stage: StageIngest, Version: src.Value, Seq: st.Seq, At: st.ObservedAt, Err: err})
		}
		return
	}

	st := s.cell.Publish(set, src.RunID)
	logger.Info("definitions ingested", "categories", set.Len(), "digest", set.Digest)
	notify(ctx, s.opts, logger, StageEvent{
		RunID:     src.RunID,
		Stage:     StageIngest,
		Available: true,
		Version:   src.Value,
		Digest:    set.Digest,
		Seq:       st.Seq,
		At:        st.ObservedAt,
	})
}
