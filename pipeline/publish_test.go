package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dcshock/defsync/clock"
	"github.com/dcshock/defsync/definition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSet(t *testing.T, version string) *definition.Set {
	t.Helper()
	set, err := definition.NewSet(version, []definition.Category{{ID: "root", Name: "Root"}})
	require.NoError(t, err)
	return set
}

func TestPublishStage_EagerPublishAfterConnect(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	upstream.Publish(mustSet(t, "v1"), "run-1")

	pub := newFakePublisher()
	obs := &recordingObserver{}
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{Bound: 0, GiveUp: Fatal},
		Publish: RetryPolicy{Bound: 0},
	}, testOptions(clk, obs))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, stage.Run)

	msg := receive(t, pub.notify)
	assert.Equal(t, VersionID("v1"), msg.Version)
	assert.True(t, stage.Connected())

	cancel()
	require.NoError(t, waitErr(t, errc))
	assert.True(t, pub.closed)

	last, ok := stage.LastPublished()
	require.True(t, ok)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, 1, last.Attempts)
	require.Len(t, obs.pubs, 1)
	assert.Equal(t, msg.ID, obs.pubs[0].MessageID)
}

func TestPublishStage_RetriesThenPublishesOnce(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	pub.publishErrs = []error{errBoom, errBoom}
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{Bound: 0, GiveUp: Fatal},
		Publish: RetryPolicy{Bound: 3, Interval: time.Second},
	}, testOptions(clk, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)

	upstream.Publish(mustSet(t, "v1"), "run-1")
	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	receive(t, pub.notify)
	accepted, attempts, _ := pub.snapshot()
	assert.Len(t, accepted, 1)
	assert.Equal(t, 3, attempts)

	last, ok := stage.LastPublished()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second), last.At)
	assert.Equal(t, 3, last.Attempts)

	cancel()
	require.NoError(t, waitErr(t, errc))
}

func TestPublishStage_ConnectExhaustionIsFatal(t *testing.T) {
	clk := clock.NewFake(epoch)
	pub := newFakePublisher()
	pub.connectErrs = []error{errBoom, errBoom}
	stage := NewPublishStage(pub, fakeEncoder{}, NewCell[*definition.Set](clk), PublishConfig{
		Connect: RetryPolicy{Bound: 1, Interval: time.Second, GiveUp: Fatal},
	}, testOptions(clk, nil))

	errc := runAsync(context.Background(), stage.Run)
	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	err := waitErr(t, errc)
	assert.True(t, IsFatal(err))
	_, _, connects := pub.snapshot()
	assert.Equal(t, 2, connects)
}

func TestPublishStage_SoftGiveUpWaitsForNextSet(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	pub.publishErrs = []error{errBoom}
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{GiveUp: Fatal},
		Publish: RetryPolicy{Bound: 0, GiveUp: Soft},
	}, testOptions(clk, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)

	upstream.Publish(mustSet(t, "v1"), "r1")
	require.Eventually(t, func() bool {
		_, attempts, _ := pub.snapshot()
		return attempts == 1
	}, 5*time.Second, time.Millisecond)
	_, ok := stage.LastPublished()
	assert.False(t, ok)

	upstream.Publish(mustSet(t, "v2"), "r2")
	msg := receive(t, pub.notify)
	assert.Equal(t, VersionID("v2"), msg.Version)

	cancel()
	require.NoError(t, waitErr(t, errc))
}

func TestPublishStage_FatalEscalation(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	upstream.Publish(mustSet(t, "v1"), "r1")
	pub := newFakePublisher()
	pub.publishErrs = []error{errBoom}
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{GiveUp: Fatal},
		Publish: RetryPolicy{Bound: 0, GiveUp: Fatal},
	}, testOptions(clk, nil))

	err := waitErr(t, runAsync(context.Background(), stage.Run))
	assert.True(t, IsFatal(err))
	assert.True(t, pub.closed)
}

func TestPublishStage_ReconnectsBeforePublishing(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{GiveUp: Fatal},
		Publish: RetryPolicy{Bound: 1, Interval: time.Second},
	}, testOptions(clk, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)
	require.Eventually(t, stage.Connected, 5*time.Second, time.Millisecond)

	pub.drop()
	upstream.Publish(mustSet(t, "v1"), "r1")
	receive(t, pub.notify)
	_, _, connects := pub.snapshot()
	assert.Equal(t, 2, connects)

	cancel()
	require.NoError(t, waitErr(t, errc))
}

func TestPublishStage_RepublishesEachTransition(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{GiveUp: Fatal},
	}, testOptions(clk, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)
	require.Eventually(t, stage.Connected, 5*time.Second, time.Millisecond)

	set := mustSet(t, "v1")
	upstream.Publish(set, "r1")
	first := receive(t, pub.notify)
	upstream.MarkUnavailable("r2")
	upstream.Publish(set, "r2")
	second := receive(t, pub.notify)
	assert.Equal(t, first.ID, second.ID, "equal content yields equal message ids")

	cancel()
	require.NoError(t, waitErr(t, errc))
}

func TestPublishStage_SkipUnchanged(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect:       RetryPolicy{GiveUp: Fatal},
		SkipUnchanged: true,
	}, testOptions(clk, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)
	require.Eventually(t, stage.Connected, 5*time.Second, time.Millisecond)

	upstream.Publish(mustSet(t, "v1"), "r1")
	receive(t, pub.notify)
	upstream.Publish(mustSet(t, "v1"), "r2")
	upstream.Publish(mustSet(t, "v2"), "r3")
	msg := receive(t, pub.notify)
	assert.Equal(t, VersionID("v2"), msg.Version)

	cancel()
	require.NoError(t, waitErr(t, errc))
	accepted, _, _ := pub.snapshot()
	assert.Len(t, accepted, 2)
}

// stuckObserver blocks every hook until its context ends.
type stuckObserver struct {
	mu       sync.Mutex
	timeouts int
}

func (o *stuckObserver) StageChanged(ctx context.Context, _ StageEvent) error { return o.block(ctx) }
func (o *stuckObserver) Published(ctx context.Context, _ Publication) error   { return o.block(ctx) }

func (o *stuckObserver) block(ctx context.Context) error {
	<-ctx.Done()
	o.mu.Lock()
	o.timeouts++
	o.mu.Unlock()
	return ctx.Err()
}

func TestPublishStage_StuckObserverDoesNotStallPublication(t *testing.T) {
	clk := clock.NewFake(epoch)
	upstream := NewCell[*definition.Set](clk)
	pub := newFakePublisher()
	obs := &stuckObserver{}
	opts := testOptions(clk, obs)
	opts.HookTimeout = 20 * time.Millisecond
	stage := NewPublishStage(pub, fakeEncoder{}, upstream, PublishConfig{
		Connect: RetryPolicy{GiveUp: Fatal},
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, stage.Run)
	require.Eventually(t, stage.Connected, 5*time.Second, time.Millisecond)

	upstream.Publish(mustSet(t, "v1"), "r1")
	assert.Equal(t, VersionID("v1"), receive(t, pub.notify).Version)
	upstream.Publish(mustSet(t, "v2"), "r2")
	assert.Equal(t, VersionID("v2"), receive(t, pub.notify).Version)

	cancel()
	require.NoError(t, waitErr(t, errc))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.GreaterOrEqual(t, obs.timeouts, 1)
}
