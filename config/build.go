package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dcshock/defsync/archive"
	"github.com/dcshock/defsync/clock"
	"github.com/dcshock/defsync/codec"
	"github.com/dcshock/defsync/definition"
	"github.com/dcshock/defsync/observer"
	"github.com/dcshock/defsync/pipeline"
	"github.com/dcshock/defsync/source"
)

// BuildOptions supplies the collaborators Build does not create itself.
type BuildOptions struct {
	Logger *slog.Logger
	Clock  clock.Clock
	// Sinks resolves output.sink; nil uses the package Sinks registry.
	Sinks *Registry
	// Observers are added to the ledger and archive observers.
	Observers []pipeline.Observer
}

// Service is a wired pipeline and the optional stores it reports to.
type Service struct {
	Pipeline *pipeline.Pipeline
	Ledger   *observer.Ledger
	Archive  *archive.Archive
}

// Close releases the ledger connection.
func (s *Service) Close() error {
	if s.Ledger != nil {
		return s.Ledger.Close()
	}
	return nil
}

// PublishGiveUp maps output.publish_failure to a GiveUp.
func (c *Config) PublishGiveUp() pipeline.GiveUp {
	if c.Output.PublishFailure == "fatal" {
		return pipeline.Fatal
	}
	return pipeline.Soft
}

// DefinitionsRoot is the directory parsed on every ingest.
func (c *Config) DefinitionsRoot() string {
	return filepath.Join(c.Git.RepositoryLocalDir, c.Definitions.Dir)
}

// StageConfig converts the file settings into per-stage settings. The
// initial fetch and the broker connection give up fatally; updates give up
// softly; publication follows output.publish_failure.
func (c *Config) StageConfig() pipeline.Config {
	d, o := c.Downloader, c.Output
	return pipeline.Config{
		Sync: pipeline.SyncConfig{
			UpdateInterval: d.UpdateInterval.Duration(),
			Fetch:          pipeline.RetryPolicy{Bound: d.DownloadRetryCount, Interval: d.DownloadRetryInterval.Duration(), GiveUp: pipeline.Fatal},
			Update:         pipeline.RetryPolicy{Bound: d.UpdateRetryCount, Interval: d.UpdateRetryInterval.Duration(), GiveUp: pipeline.Soft},
		},
		Ingest: pipeline.IngestConfig{Root: c.DefinitionsRoot()},
		Publish: pipeline.PublishConfig{
			Connect:       pipeline.RetryPolicy{Bound: o.ConnectionRetryCount, Interval: o.ConnectionRetryInterval.Duration(), GiveUp: pipeline.Fatal},
			Publish:       pipeline.RetryPolicy{Bound: o.PublishRetryCount, Interval: o.PublishRetryInterval.Duration(), GiveUp: c.PublishGiveUp()},
			SkipUnchanged: o.SkipUnchanged,
		},
	}
}

// Build validates cfg and wires the source, parser, encoder, sink and
// observers into a pipeline. Ledger and archive are opened only when
// configured.
func Build(ctx context.Context, cfg *Config, secrets Secrets, opts *BuildOptions) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o BuildOptions
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sinks == nil {
		o.Sinks = Sinks
	}

	factory, ok := o.Sinks.Get(cfg.Output.Sink)
	if !ok {
		return nil, fmt.Errorf("%w: output.sink %q not in registry", ErrInvalid, cfg.Output.Sink)
	}
	publisher, err := factory(cfg, secrets, o.Logger.With("component", "sink"))
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", cfg.Output.Sink, err)
	}
	encoder, err := codec.New(codec.Format(cfg.Output.Encoding))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	parser, err := definition.NewParser()
	if err != nil {
		return nil, err
	}
	src := source.New(source.Config{
		URL:      cfg.Git.RepositoryURL,
		Dir:      cfg.Git.RepositoryLocalDir,
		Remote:   cfg.Git.RemoteName,
		Branch:   cfg.Git.RemoteBranch,
		Username: secrets.GitUsername,
		Password: secrets.GitPassword,
	}, o.Logger.With("component", "git"))

	arch := archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		Bucket:    cfg.Archive.Bucket,
		Prefix:    cfg.Archive.Prefix,
		Region:    cfg.Archive.Region,
		UseSSL:    cfg.Archive.UseSSL,
		AccessKey: secrets.ArchiveAccessKey,
		SecretKey: secrets.ArchiveSecretKey,
	}
	if arch.Endpoint != "" {
		if err := arch.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	// Failures past this point are connectivity, not configuration.
	svc := &Service{}
	observers := append([]pipeline.Observer{observer.NewLogger(o.Logger)}, o.Observers...)
	if cfg.Ledger.DSN != "" {
		svc.Ledger, err = observer.Open(ctx, cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		observers = append(observers, svc.Ledger)
	}
	if cfg.Archive.Endpoint != "" {
		svc.Archive, err = archive.New(ctx, arch)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		observers = append(observers, svc.Archive)
	}

	svc.Pipeline = pipeline.New(src, parser, publisher, encoder, cfg.StageConfig(), &pipeline.Options{
		Clock:       o.Clock,
		Logger:      o.Logger,
		Observer:    pipeline.MultiObserver(observers...),
		HookTimeout: cfg.Hooks.Timeout.Duration(),
	})
	return svc, nil
}
