package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dcshock/defsync/clock"
	"github.com/dcshock/defsync/definition"
)

// VersionID identifies a revision of the definition source (a commit hash
// for git). Opaque to the pipeline.
type VersionID string

// SourceSync keeps a local copy of the definition source. Fetch is called
// once at startup; Update brings an existing copy up to date. Both return
// the version now checked out.
type SourceSync interface {
	Fetch(ctx context.Context) (VersionID, error)
	Update(ctx context.Context) (VersionID, error)
}

// DefinitionParser turns the checkout at root into a validated Set stamped
// with version. It must return either a complete Set or an error.
type DefinitionParser interface {
	ParseAll(ctx context.Context, root, version string) (*definition.Set, error)
}

// Message is an encoded definition set ready for the sink. ID is stable for
// equal content so the sink can deduplicate.
type Message struct {
	ID          string
	ContentType string
	Body        []byte
	Version     VersionID
	Digest      string
}

// Encoder serializes a Set into a Message. Encoding must be deterministic.
type Encoder interface {
	Encode(set *definition.Set) (Message, error)
}

// Publisher delivers messages to the downstream sink.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, msg Message) error
	IsConnected() bool
	Close() error
}

// DefaultHookTimeout bounds a single observer call when Options.HookTimeout
// is zero.
const DefaultHookTimeout = 10 * time.Second

// Options carries the collaborators shared by every stage. Zero fields get
// defaults: the real clock, slog.Default, NopObserver and DefaultHookTimeout.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
	// HookTimeout bounds each observer call. Observers run on the stage
	// goroutine, so a hook that ignores its context still stalls the stage.
	HookTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Observer == nil {
		out.Observer = NopObserver{}
	}
	if out.HookTimeout <= 0 {
		out.HookTimeout = DefaultHookTimeout
	}
	return out
}

// observe runs one observer hook under HookTimeout and logs its failure.
func observe(ctx context.Context, opts Options, logger *slog.Logger, hook string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, opts.HookTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("observer failed", "hook", hook, "error", err)
	}
}

func notify(ctx context.Context, opts Options, logger *slog.Logger, ev StageEvent) {
	observe(ctx, opts, logger, "stage_changed", func(ctx context.Context) error {
		return opts.Observer.StageChanged(ctx, ev)
	})
}

func since(clk clock.Clock, start time.Time) time.Duration { return clk.Now().Sub(start) }
