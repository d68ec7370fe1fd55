package countdown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

// tick delivers one tick, or reports false if the countdown stopped reading.
func (f *fakeTicker) tick() bool {
	select {
	case <-f.stopped:
		return false
	default:
	}
	select {
	case f.ch <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	ft := newFakeTicker()
	c := New(WithTicker(func(time.Duration) Ticker { return ft }))

	var (
		mu      sync.Mutex
		ticks   []int
		expired int
	)
	require.NoError(t, c.Start(3, func(remaining int) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	}, func() {
		mu.Lock()
		expired++
		mu.Unlock()
	}))

	for i := 0; i < 3; i++ {
		require.True(t, ft.tick(), "tick %d not consumed", i+1)
	}
	<-c.Done()
	assert.False(t, ft.tick(), "ticks after expiry must not be consumed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, c.Remaining())

	select {
	case <-ft.stopped:
	case <-time.After(time.Second):
		require.FailNow(t, "ticker was not stopped after expiry")
	}
}

func TestStopHaltsTicks(t *testing.T) {
	ft := newFakeTicker()
	c := New(WithTicker(func(time.Duration) Ticker { return ft }))

	var expired bool
	ticked := make(chan int, 1)
	require.NoError(t, c.Start(5, func(remaining int) { ticked <- remaining }, func() { expired = true }))

	require.True(t, ft.tick())
	assert.Equal(t, 4, <-ticked)
	c.Stop()
	c.Stop()

	assert.False(t, ft.tick())
	assert.Equal(t, 4, c.Remaining())
	assert.False(t, expired)
}

func TestStartTwiceFails(t *testing.T) {
	ft := newFakeTicker()
	c := New(WithTicker(func(time.Duration) Ticker { return ft }))
	defer c.Stop()

	require.NoError(t, c.Start(10, nil, nil))
	assert.ErrorIs(t, c.Start(10, nil, nil), ErrAlreadyStarted)
}

func TestZeroBudgetExpiresImmediately(t *testing.T) {
	c := New(WithTicker(func(time.Duration) Ticker {
		require.FailNow(t, "no ticker expected for an empty budget")
		return nil
	}))

	fired := make(chan struct{})
	require.NoError(t, c.Start(0, nil, func() { close(fired) }))

	select {
	case <-fired:
	case <-time.After(time.Second):
		require.FailNow(t, "expiry did not fire")
	}
}
