package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dcshock/defsync/definition"
)

// PublishConfig controls the publish stage.
type PublishConfig struct {
	// Connect governs the startup connection; it should be Fatal.
	Connect RetryPolicy
	// Publish governs each publication. Soft keeps waiting for the next
	// ingest update on give-up; Fatal stops the pipeline.
	Publish RetryPolicy
	// SkipUnchanged suppresses a publication whose message id equals the
	// last one accepted by the sink.
	SkipUnchanged bool
}

// PublishStage delivers every newly available definition set to the sink.
type PublishStage struct {
	publisher Publisher
	encoder   Encoder
	upstream  *Cell[*definition.Set]
	cfg       PublishConfig
	opts      Options
	logger    *slog.Logger

	mu   sync.Mutex
	last *Publication
}

// NewPublishStage returns a stage publishing upstream through publisher.
func NewPublishStage(publisher Publisher, encoder Encoder, upstream *Cell[*definition.Set], cfg PublishConfig, opts *Options) *PublishStage {
	o := opts.withDefaults()
	return &PublishStage{
		publisher: publisher,
		encoder:   encoder,
		upstream:  upstream,
		cfg:       cfg,
		opts:      o,
		logger:    o.Logger.With("stage", StagePublish),
	}
}

// Connected reports whether the sink connection is up.
func (s *PublishStage) Connected() bool { return s.publisher.IsConnected() }

// LastPublished returns the most recent successful publication.
func (s *PublishStage) LastPublished() (Publication, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Publication{}, false
	}
	return *s.last, true
}

// Run connects to the sink, publishes the current set if one is already
// available, then publishes each later transition to availability.
func (s *PublishStage) Run(ctx context.Context) error {
	err := s.cfg.Connect.Do(ctx, s.opts.Clock, s.logger, "publish connect", func(ctx context.Context, _ int) error {
		return s.publisher.Connect(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("close publisher", "error", err)
		}
	}()
	s.logger.Info("sink connected")

	st := s.upstream.Snapshot()
	if st.Available {
		if err := s.publish(ctx, st); err != nil {
			return err
		}
	}
	seen := st.Seq
	for {
		st, err := s.upstream.Wait(ctx, seen)
		if err != nil {
			return nil
		}
		seen = st.Seq
		if !st.Available {
			continue
		}
		if err := s.publish(ctx, st); err != nil {
			return err
		}
	}
}

// publish returns an error only when the pipeline must stop.
func (s *PublishStage) publish(ctx context.Context, st StageState[*definition.Set]) error {
	set := st.Value
	logger := s.logger.With("run_id", st.RunID, "version", set.Version)

	msg, err := s.encoder.Encode(set)
	if err != nil {
		logger.Error("encode definitions", "error", err)
		return nil
	}
	if s.cfg.SkipUnchanged {
		if last, ok := s.LastPublished(); ok && last.MessageID == msg.ID {
			logger.Debug("unchanged since last publication", "message_id", msg.ID)
			return nil
		}
	}

	var attempts int
	err = s.cfg.Publish.Do(ctx, s.opts.Clock, logger, "publish", func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		if !s.publisher.IsConnected() {
			if err := s.publisher.Connect(ctx); err != nil {
				return fmt.Errorf("reconnect: %w", err)
			}
		}
		return s.publisher.Publish(ctx, msg)
	})
	switch {
	case err == nil:
	case IsFatal(err):
		return err
	default:
		// Soft give-up or shutdown; the next ingest transition tries again.
		return nil
	}

	pub := Publication{
		RunID:       st.RunID,
		MessageID:   msg.ID,
		Version:     msg.Version,
		Digest:      msg.Digest,
		ContentType: msg.ContentType,
		Body:        msg.Body,
		Categories:  set.Len(),
		Attempts:    attempts,
		At:          s.opts.Clock.Now(),
	}
	s.mu.Lock()
	s.last = &pub
	s.mu.Unlock()
	logger.Info("definitions published", "message_id", msg.ID, "bytes", len(msg.Body), "attempts", attempts)
	observe(ctx, s.opts, logger, "published", func(ctx context.Context) error {
		return s.opts.Observer.Published(ctx, pub)
	})
	return nil
}
