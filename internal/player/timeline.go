package player

import (
	"errors"
	"math"
	"sync"
	"time"

	"traffic-map/internal/platform/clock"
)

// Timeline defaults.
const (
	DefaultSliderMax           = 1000
	DefaultTickStep            = 2
	DefaultJumpStep            = 20
	DefaultPlaybackInterval    = 350 * time.Millisecond
	DefaultWindowRadiusMinutes = 5
)

// ErrTimelineDisabled is returned by transitions attempted before a time
// range has been loaded.
var ErrTimelineDisabled = errors.New("timeline has no time range loaded")

// ErrInvalidTimeRange is returned when a time range cannot drive the timeline.
var ErrInvalidTimeRange = errors.New("invalid time range")

// PlaybackState is the timeline state machine: disabled -> idle <-> playing.
type PlaybackState int

const (
	StateDisabled PlaybackState = iota
	StateIdle
	StatePlaying
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "disabled"
	}
}

// TimelineConfig tunes the timeline. Zero fields take the defaults above.
type TimelineConfig struct {
	SliderMax int
	TickStep  int
	JumpStep  int
	Interval  time.Duration
	Clock     clock.Clock
}

func (c TimelineConfig) withDefaults() TimelineConfig {
	if c.SliderMax <= 0 {
		c.SliderMax = DefaultSliderMax
	}
	if c.TickStep <= 0 {
		c.TickStep = DefaultTickStep
	}
	if c.JumpStep <= 0 {
		c.JumpStep = DefaultJumpStep
	}
	if c.Interval <= 0 {
		c.Interval = DefaultPlaybackInterval
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

// TimelineSnapshot is a consistent read of the timeline state.
type TimelineSnapshot struct {
	State     PlaybackState `json:"-"`
	StateName string        `json:"state"`
	Position  int           `json:"position"`
	SliderMax int           `json:"slider_max"`
	Range     *TimeRange    `json:"range,omitempty"`
}

// Timeline owns the scrub position, the loaded time range and the playback
// ticker. All methods are safe for concurrent use.
type Timeline struct {
	cfg    TimelineConfig
	onTick func(position int)

	mu       sync.Mutex
	rng      *TimeRange
	position int
	state    PlaybackState
	ticker   clock.Ticker
	stop     chan struct{}
	// gen changes on every start/stop so a tick that raced with Pause is dropped.
	gen uint64
}

// NewTimeline returns a disabled timeline. onTick, if non-nil, is called
// after each playback advance with the new position, outside the lock.
func NewTimeline(cfg TimelineConfig, onTick func(position int)) *Timeline {
	return &Timeline{cfg: cfg.withDefaults(), onTick: onTick}
}

// Load installs the time range and enables the controls.
func (t *Timeline) Load(r TimeRange) error {
	if !r.Valid() {
		return ErrInvalidTimeRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rng := r
	t.rng = &rng
	if t.state == StateDisabled {
		t.state = StateIdle
	}
	return nil
}

// Snapshot returns the current state.
func (t *Timeline) Snapshot() TimelineSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := TimelineSnapshot{
		State:     t.state,
		StateName: t.state.String(),
		Position:  t.position,
		SliderMax: t.cfg.SliderMax,
	}
	if t.rng != nil {
		r := *t.rng
		snap.Range = &r
	}
	return snap
}

// State returns the playback state.
func (t *Timeline) State() PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Position returns the scrub position.
func (t *Timeline) Position() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// SetPosition moves the scrub position, clamped to [0, SliderMax].
func (t *Timeline) SetPosition(p int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDisabled {
		return t.position, ErrTimelineDisabled
	}
	t.position = t.clampLocked(p)
	return t.position, nil
}

// Step moves the scrub position by delta jumps (negative for prev).
func (t *Timeline) Step(delta int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDisabled {
		return t.position, ErrTimelineDisabled
	}
	t.position = t.clampLocked(t.position + delta*t.cfg.JumpStep)
	return t.position, nil
}

// TogglePlay starts playback from idle or stops it from playing. It returns
// the resulting state.
func (t *Timeline) TogglePlay() (PlaybackState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateDisabled:
		return t.state, ErrTimelineDisabled
	case StatePlaying:
		t.stopLocked()
	default:
		t.startLocked()
	}
	return t.state, nil
}

// Pause forces playing -> idle. It reports whether playback was running.
func (t *Timeline) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePlaying {
		return false
	}
	t.stopLocked()
	return true
}

// SliderEpoch maps the scrub position onto the loaded time range. ok is
// false while no range is loaded.
func (t *Timeline) SliderEpoch() (epoch int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rng == nil {
		return 0, false
	}
	return sliderEpoch(t.position, t.cfg.SliderMax, *t.rng), true
}

func sliderEpoch(position, sliderMax int, r TimeRange) int64 {
	if sliderMax <= 0 {
		return r.Min
	}
	frac := float64(position) / float64(sliderMax)
	return r.Min + int64(math.Round(frac*float64(r.Max-r.Min)))
}

// WindowFromEpoch returns [epoch - radius, epoch + radius].
func WindowFromEpoch(epoch int64, radiusMinutes int) TimeWindow {
	radius := int64(radiusMinutes) * 60
	return TimeWindow{From: epoch - radius, To: epoch + radius}
}

func (t *Timeline) clampLocked(p int) int {
	return min(max(p, 0), t.cfg.SliderMax)
}

func (t *Timeline) startLocked() {
	t.gen++
	t.state = StatePlaying
	t.ticker = t.cfg.Clock.NewTicker(t.cfg.Interval)
	t.stop = make(chan struct{})
	go t.run(t.ticker, t.stop, t.gen)
}

func (t *Timeline) stopLocked() {
	t.gen++
	t.state = StateIdle
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timeline) run(ticker clock.Ticker, stop <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			t.tick(gen)
		}
	}
}

// tick advances by TickStep, wrapping to 0 once past SliderMax.
func (t *Timeline) tick(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.state != StatePlaying {
		t.mu.Unlock()
		return
	}
	next := t.position + t.cfg.TickStep
	if next > t.cfg.SliderMax {
		next = 0
	}
	t.position = next
	cb := t.onTick
	t.mu.Unlock()

	if cb != nil {
		cb(next)
	}
}
