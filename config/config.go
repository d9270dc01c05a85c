package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is matched by every error caused by a missing or bad setting,
// as opposed to a failure to reach a configured service.
var ErrInvalid = errors.New("invalid configuration")

// Config is the service configuration file.
type Config struct {
	Git         GitConfig         `yaml:"git"`
	Downloader  DownloaderConfig  `yaml:"downloader"`
	Definitions DefinitionsConfig `yaml:"definitions"`
	Output      OutputConfig      `yaml:"output"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Status      StatusConfig      `yaml:"status"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Log         LogConfig         `yaml:"log"`
}

// GitConfig locates the definition repository.
type GitConfig struct {
	RepositoryURL      string `yaml:"repository_url"`
	RepositoryLocalDir string `yaml:"repository_local_dir"`
	RemoteName         string `yaml:"remote_name"`
	RemoteBranch       string `yaml:"remote_branch"`
}

// DownloaderConfig controls the initial fetch and the periodic update.
// A negative retry count retries without limit.
type DownloaderConfig struct {
	UpdateInterval        Duration `yaml:"update_interval"`
	DownloadRetryCount    int      `yaml:"download_retry_count"`
	DownloadRetryInterval Duration `yaml:"download_retry_interval"`
	UpdateRetryCount      int      `yaml:"update_retry_count"`
	UpdateRetryInterval   Duration `yaml:"update_retry_interval"`
}

// DefinitionsConfig locates the definition files inside the checkout.
type DefinitionsConfig struct {
	Dir string `yaml:"dir"`
}

// OutputConfig controls the broker connection and publication.
type OutputConfig struct {
	Sink                    string   `yaml:"sink"`
	Queue                   string   `yaml:"queue"`
	Encoding                string   `yaml:"encoding"`
	ConnectionRetryCount    int      `yaml:"connection_retry_count"`
	ConnectionRetryInterval Duration `yaml:"connection_retry_interval"`
	PublishRetryCount       int      `yaml:"publish_retry_count"`
	PublishRetryInterval    Duration `yaml:"publish_retry_interval"`
	// PublishFailure is "soft" (keep running) or "fatal" (stop the service)
	// once publish retries are exhausted.
	PublishFailure string `yaml:"publish_failure"`
	SkipUnchanged  bool   `yaml:"skip_unchanged"`
}

// LedgerConfig enables the publication ledger. An empty DSN disables it.
type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

// ArchiveConfig enables the snapshot archive. An empty endpoint disables it.
type ArchiveConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// StatusConfig enables the HTTP status server. An empty address disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// HooksConfig bounds each call to the ledger and archive observers.
type HooksConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration that unmarshals from YAML strings ("60s",
// "5m") or from plain integers, read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if value.ShortTag() == "!!int" {
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Git: GitConfig{
			RepositoryLocalDir: "definitions",
			RemoteName:         "origin",
			RemoteBranch:       "main",
		},
		Downloader: DownloaderConfig{
			UpdateInterval:        Duration(5 * time.Minute),
			DownloadRetryCount:    5,
			DownloadRetryInterval: Duration(10 * time.Second),
			UpdateRetryCount:      3,
			UpdateRetryInterval:   Duration(30 * time.Second),
		},
		Definitions: DefinitionsConfig{Dir: "categories"},
		Output: OutputConfig{
			Sink:                    "amqp",
			Queue:                   "definitions",
			Encoding:                "json",
			ConnectionRetryCount:    10,
			ConnectionRetryInterval: Duration(5 * time.Second),
			PublishRetryCount:       3,
			PublishRetryInterval:    Duration(5 * time.Second),
			PublishFailure:          "soft",
		},
		Archive: ArchiveConfig{Prefix: "snapshots"},
		Hooks:   HooksConfig{Timeout: Duration(10 * time.Second)},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Parse overlays YAML data on Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	req("git.repository_url", c.Git.RepositoryURL)
	req("git.repository_local_dir", c.Git.RepositoryLocalDir)
	req("git.remote_name", c.Git.RemoteName)
	req("git.remote_branch", c.Git.RemoteBranch)
	req("definitions.dir", c.Definitions.Dir)

	nonNeg := func(name string, d Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	nonNeg("downloader.update_interval", c.Downloader.UpdateInterval)
	nonNeg("downloader.download_retry_interval", c.Downloader.DownloadRetryInterval)
	nonNeg("downloader.update_retry_interval", c.Downloader.UpdateRetryInterval)
	nonNeg("output.connection_retry_interval", c.Output.ConnectionRetryInterval)
	nonNeg("output.publish_retry_interval", c.Output.PublishRetryInterval)
	nonNeg("hooks.timeout", c.Hooks.Timeout)

	if !knownSink(c.Output.Sink) {
		errs = append(errs, fmt.Errorf("output.sink %q is not one of %s", c.Output.Sink, strings.Join(SinkNames(), ", ")))
	}
	if c.Output.Sink == "amqp" {
		req("output.queue", c.Output.Queue)
	}
	switch c.Output.Encoding {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("output.encoding %q must be json or cbor", c.Output.Encoding))
	}
	switch c.Output.PublishFailure {
	case "", "soft", "fatal":
	default:
		errs = append(errs, fmt.Errorf("output.publish_failure %q must be soft or fatal", c.Output.PublishFailure))
	}
	if c.Archive.Endpoint != "" {
		req("archive.bucket", c.Archive.Bucket)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Secrets are the settings read only from the environment.
type Secrets struct {
	AMQPURI          string
	GitUsername      string
	GitPassword      string
	ArchiveAccessKey string
	ArchiveSecretKey string
}

// SecretsFromEnv reads Secrets using lookup (os.LookupEnv when nil).
func SecretsFromEnv(lookup func(string) (string, bool)) Secrets {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	return Secrets{
		AMQPURI:          get("AMQP_CONNECTION_URI"),
		GitUsername:      get("GIT_USERNAME"),
		GitPassword:      get("GIT_PASSWORD"),
		ArchiveAccessKey: get("ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey: get("ARCHIVE_SECRET_KEY"),
	}
}
