package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dcshock/defsync/output"
	"github.com/dcshock/defsync/pipeline"
)

// SinkFactory builds the publisher for one output.sink value.
type SinkFactory func(cfg *Config, secrets Secrets, logger *slog.Logger) (pipeline.Publisher, error)

// Registry maps sink names to factories. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]SinkFactory
}

// NewRegistry returns an empty sink registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]SinkFactory)}
}

// Register adds a factory under name. Overwrites any existing registration.
func (r *Registry) Register(name string, f SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks == nil {
		r.sinks = make(map[string]SinkFactory)
	}
	r.sinks[name] = f
}

// Get returns the factory for name, or nil and false if not found.
func (r *Registry) Get(name string) (SinkFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sinks[name]
	return f, ok
}

// MustGet returns the factory for name, or panics if not found.
func (r *Registry) MustGet(name string) SinkFactory {
	f, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("config: sink %q not registered", name))
	}
	return f
}

// Names returns the registered sink names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for n := range r.sinks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sinks holds the built-in sinks: "amqp" publishes to RabbitMQ, "stdout"
// writes each message as a JSON line (dry run).
var Sinks = defaultSinks(os.Stdout)

func defaultSinks(stdout io.Writer) *Registry {
	r := NewRegistry()
	r.Register("amqp", func(cfg *Config, secrets Secrets, logger *slog.Logger) (pipeline.Publisher, error) {
		if secrets.AMQPURI == "" {
			return nil, fmt.Errorf("%w: AMQP_CONNECTION_URI is not set", ErrInvalid)
		}
		return output.New(output.Config{
			URI:   secrets.AMQPURI,
			Queue: cfg.Output.Queue,
		}, logger), nil
	})
	r.Register("stdout", func(*Config, Secrets, *slog.Logger) (pipeline.Publisher, error) {
		return output.NewWriter(stdout), nil
	})
	return r
}

// SinkNames lists the built-in sink names.
func SinkNames() []string { return Sinks.Names() }

func knownSink(name string) bool {
	_, ok := Sinks.Get(name)
	return ok
}
