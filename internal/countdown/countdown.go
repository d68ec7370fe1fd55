// Package countdown drives a per-attempt timer from a fixed budget down to zero.
package countdown

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when Start is called twice on one Countdown.
var ErrAlreadyStarted = errors.New("countdown already started")

// Ticker is the tick source; time.Ticker satisfies it through RealTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// RealTicker wraps time.NewTicker.
func RealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Countdown ticks once per second and fires onExpire at most once.
type Countdown struct {
	newTicker TickerFactory

	mu        sync.Mutex
	ticker    Ticker
	started   bool
	stopped   bool
	remaining int
	done      chan struct{}
	expire    sync.Once
}

type Option func(*Countdown)

// WithTicker replaces the tick source, mainly for tests.
func WithTicker(f TickerFactory) Option {
	return func(c *Countdown) { c.newTicker = f }
}

func New(opts ...Option) *Countdown {
	c := &Countdown{newTicker: RealTicker, done: make(chan struct{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins counting down from budgetSeconds. onTick receives the remaining seconds after
// every tick; onExpire runs once when the counter reaches zero. Callbacks run on the
// countdown's goroutine and never after Stop has returned.
func (c *Countdown) Start(budgetSeconds int, onTick func(remaining int), onExpire func()) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.remaining = budgetSeconds
	c.mu.Unlock()

	if budgetSeconds <= 0 {
		go func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.stopped {
				c.fireLocked(onExpire)
			}
		}()
		return nil
	}

	ticker := c.newTicker(time.Second)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ticker.Stop()
		return nil
	}
	c.ticker = ticker
	c.mu.Unlock()

	go c.run(ticker, onTick, onExpire)
	return nil
}

func (c *Countdown) run(ticker Ticker, onTick func(int), onExpire func()) {
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C():
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.remaining--
			remaining := c.remaining
			if onTick != nil {
				onTick(remaining)
			}
			if remaining <= 0 {
				c.fireLocked(onExpire)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// fireLocked marks the countdown finished and invokes onExpire once. c.mu must be held.
func (c *Countdown) fireLocked(onExpire func()) {
	c.expire.Do(func() {
		c.stopped = true
		close(c.done)
		if c.ticker != nil {
			c.ticker.Stop()
		}
		if onExpire != nil {
			onExpire()
		}
	})
}

// Stop halts the tick source. Safe to call repeatedly and from any goroutine except
// inside the countdown's own callbacks.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.expire.Do(func() { close(c.done) })
	if c.ticker != nil {
		c.ticker.Stop()
	}
}

// Remaining returns the seconds left on the counter.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}

// Done is closed once the countdown expired or was stopped.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
