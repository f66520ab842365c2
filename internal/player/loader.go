package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"traffic-map/internal/platform/metrics"

	"github.com/paulmach/orb/geojson"
)

// DefaultLegendPlaceholder is shown for a legend bound the service did not supply.
const DefaultLegendPlaceholder = "–"

// TrafficSource fetches one traffic frame.
type TrafficSource interface {
	FetchTraffic(ctx context.Context, q TrafficQuery) (TrafficPayload, error)
}

// EpochSource yields the epoch the next frame is centered on.
type EpochSource interface {
	SliderEpoch() (epoch int64, ok bool)
}

// LoaderConfig tunes a Loader. Zero fields take defaults.
type LoaderConfig struct {
	WindowRadiusMinutes int
	LegendPlaceholder   string
	LabelsVisible       bool
	Filters             Filters
}

// Loader runs refresh cycles: window, fetch, normalize, build, push.
// Refresh may be called from any number of goroutines; only the most
// recently issued refresh ever reaches the renderer.
type Loader struct {
	src      TrafficSource
	epoch    EpochSource
	renderer Renderer
	log      *slog.Logger
	metrics  *metrics.Metrics

	radius      int
	placeholder string

	seq atomic.Uint64
	// pushMu serializes the push phase; the sequence is re-checked under it.
	pushMu sync.Mutex
	last   *Frame

	mu             sync.RWMutex
	trafficVisible bool
	labelsVisible  bool
	filters        Filters
}

// NewLoader returns a Loader with the traffic layer visible.
func NewLoader(src TrafficSource, epoch EpochSource, r Renderer, cfg LoaderConfig, log *slog.Logger, m *metrics.Metrics) *Loader {
	if cfg.WindowRadiusMinutes <= 0 {
		cfg.WindowRadiusMinutes = DefaultWindowRadiusMinutes
	}
	if cfg.LegendPlaceholder == "" {
		cfg.LegendPlaceholder = DefaultLegendPlaceholder
	}
	if cfg.Filters == (Filters{}) {
		cfg.Filters = DefaultFilters()
	}
	return &Loader{
		src:            src,
		epoch:          epoch,
		renderer:       r,
		log:            log,
		metrics:        m,
		radius:         cfg.WindowRadiusMinutes,
		placeholder:    cfg.LegendPlaceholder,
		trafficVisible: true,
		labelsVisible:  cfg.LabelsVisible,
		filters:        cfg.Filters,
	}
}

// Refresh runs one cycle. Transport failures are returned with
// OutcomeFailed and leave the rendered frame untouched; a malformed payload
// renders an empty frame and reports PayloadNormalized.
func (l *Loader) Refresh(ctx context.Context) (Frame, error) {
	l.mu.RLock()
	trafficOn, labelsOn, filters := l.trafficVisible, l.labelsVisible, l.filters
	l.mu.RUnlock()

	if !trafficOn {
		return l.finish(Frame{Outcome: OutcomeSkipped}), nil
	}
	epoch, ok := l.epoch.SliderEpoch()
	if !ok {
		return l.finish(Frame{Outcome: OutcomeSkipped}), nil
	}

	seq := l.seq.Add(1)
	frame := Frame{
		Seq:     seq,
		Window:  WindowFromEpoch(epoch, l.radius),
		Filters: filters,
	}

	payload, err := l.src.FetchTraffic(ctx, TrafficQuery{Window: frame.Window, Filters: filters})
	if err != nil {
		if !l.isLatest(seq) {
			frame.Outcome = OutcomeStale
			return l.finish(frame), nil
		}
		frame.Outcome = OutcomeFailed
		return l.finish(frame), fmt.Errorf("refresh %d: %w", seq, err)
	}
	if !l.isLatest(seq) {
		frame.Outcome = OutcomeStale
		return l.finish(frame), nil
	}

	frame.Collection = payload.Collection
	if frame.Collection == nil {
		frame.Collection = geojson.NewFeatureCollection()
	}
	frame.Payload = payload.Status
	frame.Stats = payload.Stats.Effective()
	StyleFeatures(frame.Collection, frame.Stats)
	frame.Peak = BuildPeak(frame.Collection, frame.Stats)
	if labelsOn {
		frame.Labels = BuildLabels(frame.Collection)
	} else {
		frame.Labels = []LabelDescriptor{}
	}

	l.pushMu.Lock()
	if !l.isLatest(seq) || !l.TrafficVisible() {
		l.pushMu.Unlock()
		frame.Outcome = OutcomeStale
		return l.finish(frame), nil
	}
	l.renderer.SetText(TextLegendMin, l.legendText(payload.Stats.Min))
	l.renderer.SetText(TextLegendMax, l.legendText(payload.Stats.Max))
	l.renderer.SetProps(LayerTraffic, LayerProps{Data: frame.Collection})
	l.renderer.SetProps(LayerPeak, LayerProps{Data: PeakList(frame.Peak)})
	l.renderer.SetProps(LayerLabels, LayerProps{Data: frame.Labels})
	frame.Outcome = OutcomeRendered
	last := frame
	l.last = &last
	l.pushMu.Unlock()

	if frame.Payload == PayloadNormalized {
		l.metrics.IncNormalized()
		l.log.Warn("traffic payload malformed, rendered empty frame",
			slog.Uint64("seq", seq),
			slog.Int64("from", frame.Window.From),
			slog.Int64("to", frame.Window.To))
	}
	l.metrics.SetFrameFeatures(len(frame.Collection.Features))
	return l.finish(frame), nil
}

func (l *Loader) finish(f Frame) Frame {
	l.metrics.IncRefresh(f.Outcome.String())
	if f.Outcome == OutcomeStale {
		l.log.Debug("stale traffic frame discarded", slog.Uint64("seq", f.Seq))
	}
	return f
}

func (l *Loader) isLatest(seq uint64) bool {
	return l.seq.Load() == seq
}

// Invalidate discards every refresh currently in flight.
func (l *Loader) Invalidate() {
	l.seq.Add(1)
}

func (l *Loader) legendText(v *float64) string {
	if v == nil {
		return l.placeholder
	}
	return formatFixed2(*v)
}

// Last returns the most recently rendered frame.
func (l *Loader) Last() (Frame, bool) {
	l.pushMu.Lock()
	defer l.pushMu.Unlock()
	if l.last == nil {
		return Frame{}, false
	}
	return *l.last, true
}

// Filters returns the active filters.
func (l *Loader) Filters() Filters {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filters
}

// SetFilters changes the filters used by the next refresh.
func (l *Loader) SetFilters(f Filters) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = f
}

// TrafficVisible reports whether refreshes are enabled.
func (l *Loader) TrafficVisible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trafficVisible
}

// SetTrafficVisible turns refreshing on or off. Turning it off also discards
// refreshes in flight; once it returns no further frame is pushed.
func (l *Loader) SetTrafficVisible(on bool) {
	l.pushMu.Lock()
	defer l.pushMu.Unlock()
	l.mu.Lock()
	l.trafficVisible = on
	l.mu.Unlock()
	if !on {
		l.Invalidate()
	}
}

// LabelsVisible reports whether labels are built.
func (l *Loader) LabelsVisible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labelsVisible
}

// SetLabelsVisible toggles label building for the next refresh.
func (l *Loader) SetLabelsVisible(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labelsVisible = on
}
