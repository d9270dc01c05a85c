package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(time.Second)
	require.Equal(t, 1, c.Pending())

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestFake_AfterNonPositive(t *testing.T) {
	c := NewFake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should deliver immediately")
	}
}

func TestFake_TickerRepeatsAndStops(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Minute)

	c.Advance(time.Minute)
	<-tk.C
	c.Advance(time.Minute)
	<-tk.C

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	<-done
}

func TestFake_NewTickerPanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { NewFake(epoch).NewTicker(0) })
}
