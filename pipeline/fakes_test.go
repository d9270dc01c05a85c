package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dcshock/defsync/clock"
	"github.com/dcshock/defsync/definition"
	"github.com/stretchr/testify/require"
)

var (
	epoch   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(clk clock.Clock, obs Observer) *Options {
	return &Options{Clock: clk, Logger: discardLogger(), Observer: obs}
}

type result struct {
	version VersionID
	err     error
}

// fakeSource replays scripted results. When the script runs out the last
// entry repeats.
type fakeSource struct {
	mu      sync.Mutex
	fetches []result
	updates []result
	// gate, when set, blocks Update until a value is received.
	gate    chan struct{}
	fetched int
	updated int
}

func next(script []result, n int) result {
	if len(script) == 0 {
		return result{}
	}
	if n >= len(script) {
		return script[len(script)-1]
	}
	return script[n]
}

func (f *fakeSource) Fetch(ctx context.Context) (VersionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := next(f.fetches, f.fetched)
	f.fetched++
	return r.version, r.err
}

func (f *fakeSource) Update(ctx context.Context) (VersionID, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := next(f.updates, f.updated)
	f.updated++
	return r.version, r.err
}

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched, f.updated
}

// fakeParser returns a one-category set per version unless the version is
// listed in fail.
type fakeParser struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (p *fakeParser) ParseAll(ctx context.Context, root, version string) (*definition.Set, error) {
	p.mu.Lock()
	p.calls++
	fail := p.fail[version]
	p.mu.Unlock()
	if fail {
		return nil, definition.ValidationErrors{{File: "bad.yaml", Code: definition.CodeMissingID, Message: "category id is required"}}
	}
	return definition.NewSet(version, []definition.Category{{ID: "root", Name: "Root " + version}})
}

func (p *fakeParser) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(set *definition.Set) (Message, error) {
	return Message{
		ID:          set.Version + ":" + set.Digest,
		ContentType: "application/json",
		Body:        []byte(set.Version),
		Version:     VersionID(set.Version),
		Digest:      set.Digest,
	}, nil
}

// fakePublisher records accepted messages. connectErrs and publishErrs are
// consumed one per call; once empty, calls succeed.
type fakePublisher struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error
	publishErrs []error
	connects    int
	attempts    int
	accepted    []Message
	closed      bool
	notify      chan Message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{notify: make(chan Message, 16)}
}

func (p *fakePublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if len(p.connectErrs) > 0 {
		err := p.connectErrs[0]
		p.connectErrs = p.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	p.connected = true
	return nil
}

func (p *fakePublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	p.attempts++
	if len(p.publishErrs) > 0 {
		err := p.publishErrs[0]
		p.publishErrs = p.publishErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.accepted = append(p.accepted, msg)
	p.mu.Unlock()
	p.notify <- msg
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.connected = false
	return nil
}

func (p *fakePublisher) drop() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *fakePublisher) snapshot() (accepted []Message, attempts, connects int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.accepted...), p.attempts, p.connects
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu     sync.Mutex
	events []StageEvent
	pubs   []Publication
	err    error
}

func (o *recordingObserver) StageChanged(ctx context.Context, ev StageEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	return o.err
}

func (o *recordingObserver) Published(ctx context.Context, pub Publication) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pubs = append(o.pubs, pub)
	return o.err
}

func (o *recordingObserver) stageEvents(stage string) []StageEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []StageEvent
	for _, ev := range o.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

// waitState blocks until cell holds a state satisfying ok.
func waitState[T any](t *testing.T, cell *Cell[T], ok func(StageState[T]) bool) StageState[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seq uint64
	st := cell.Snapshot()
	for !ok(st) {
		seq = st.Seq
		var err error
		st, err = cell.Wait(ctx, seq)
		require.NoError(t, err, "timed out waiting for stage state")
	}
	return st
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publication")
		return Message{}
	}
}

func runAsync(ctx context.Context, fn func(context.Context) error) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- fn(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not return")
		return nil
	}
}
