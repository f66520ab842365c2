// Package clock abstracts tickers so playback loops can be driven by hand in tests.
package clock

import (
	"sync"
	"time"
)

// Clock creates tickers.
type Clock interface {
	// NewTicker returns a ticker that delivers ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers ticks at intervals.
type Ticker interface {
	// C returns the channel on which the ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker. No ticks are delivered after Stop returns.
	Stop()
}

// Real implements Clock using the standard time package.
type Real struct{}

// NewTicker returns a time.Ticker backed Ticker.
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// Manual is a Clock whose tickers only fire when Tick is called.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*ManualTicker
}

// NewManual returns a Manual clock starting at now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

// NewTicker registers a ticker that fires on every Tick.
func (c *Manual) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ManualTicker{period: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick fires every live ticker once, stamped one period after the current
// time, and moves the clock to the latest stamp. It returns the number of
// tickers fired.
func (c *Manual) Tick() int {
	c.mu.Lock()
	live := c.tickers[:0]
	for _, t := range c.tickers {
		if !t.stopped() {
			live = append(live, t)
		}
	}
	c.tickers = live
	fired := make([]*ManualTicker, len(live))
	copy(fired, live)
	base := c.now
	c.mu.Unlock()

	latest := base
	for _, t := range fired {
		at := base.Add(t.period)
		if at.After(latest) {
			latest = at
		}
		t.fire(at)
	}

	c.mu.Lock()
	if latest.After(c.now) {
		c.now = latest
	}
	c.mu.Unlock()
	return len(fired)
}

// Active reports how many tickers have not been stopped.
func (c *Manual) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

// ManualTicker is the Ticker handed out by Manual.
type ManualTicker struct {
	mu     sync.Mutex
	period time.Duration
	ch     chan time.Time
	done   bool
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop prevents further ticks.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *ManualTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// fire delivers a tick unless one is already pending, like time.Ticker.
func (t *ManualTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}
