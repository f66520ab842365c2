package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"traffic-map/internal/platform/metrics"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
)

// DefaultZoom is used when the initial view is derived from road bounds.
const DefaultZoom = 13

// DataClient is everything the service needs from the traffic data service.
type DataClient interface {
	TrafficSource
	FetchMeta(ctx context.Context) (Meta, error)
	FetchRoads(ctx context.Context) (*geojson.FeatureCollection, error)
	FetchBuildings(ctx context.Context, limit int) (*geojson.FeatureCollection, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Timeline       TimelineConfig
	Loader         LoaderConfig
	BuildingsLimit int
	// Location renders the date and time readouts. Nil means UTC.
	Location *time.Location
}

// Status is the control-side view of the player.
type Status struct {
	Timeline TimelineSnapshot `json:"timeline"`
	Filters  Filters          `json:"filters"`
	Labels   bool             `json:"labels"`
	Render   StateSnapshot    `json:"render"`
}

// Service owns the player state: timeline, loader and rendered layers.
// User transitions go through it; every position change updates the date
// and time readouts and refreshes the frame in the background.
type Service struct {
	client   DataClient
	timeline *Timeline
	loader   *Loader
	state    *LayerState
	renderer Renderer
	loc      *time.Location
	limit    int
	log      *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// publishMu spans reading the timeline and pushing the result, so a
	// slower publisher cannot overwrite a newer controls or clock state.
	publishMu sync.Mutex

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService wires a player around client. Every update is kept in an
// internal LayerState and forwarded to the extra renderers.
func NewService(client DataClient, cfg ServiceConfig, log *slog.Logger, m *metrics.Metrics, extra ...Renderer) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	state := NewLayerState()
	s := &Service{
		client:   client,
		state:    state,
		renderer: append(Fanout{state}, extra...),
		loc:      loc,
		limit:    cfg.BuildingsLimit,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.timeline = NewTimeline(cfg.Timeline, s.onTick)
	s.loader = NewLoader(client, s.timeline, s.renderer, cfg.Loader, log, m)
	s.renderer.SetProps(LayerLabels, LayerProps{Visible: boolPtr(s.loader.LabelsVisible())})
	return s
}

// Start loads metadata, roads and buildings concurrently, then renders the
// first frame. Load failures degrade the page and are only logged; Start
// fails only when ctx ends first.
func (s *Service) Start(ctx context.Context) error {
	var (
		meta      Meta
		metaOK    bool
		roads     *geojson.FeatureCollection
		buildings *geojson.FeatureCollection
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.client.FetchMeta(gctx)
		if err != nil {
			s.log.Error("meta load failed, timeline stays disabled", slog.String("error", err.Error()))
			return nil
		}
		meta, metaOK = m, true
		return nil
	})
	g.Go(func() error {
		fc, err := s.client.FetchRoads(gctx)
		if err != nil {
			s.log.Warn("roads load failed", slog.String("error", err.Error()))
			return nil
		}
		roads = fc
		return nil
	})
	g.Go(func() error {
		fc, err := s.client.FetchBuildings(gctx, s.limit)
		if err != nil {
			s.log.Warn("buildings load failed", slog.String("error", err.Error()))
			return nil
		}
		buildings = fc
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if roads != nil {
		s.renderer.SetProps(LayerRoads, LayerProps{Data: roads})
	}
	if buildings != nil {
		s.renderer.SetProps(LayerBuildings, LayerProps{Data: buildings})
	}

	switch {
	case metaOK && meta.Viewport != nil:
		s.state.SetView(*meta.Viewport)
	case roads != nil:
		if b := BoundsOf(roads); b != nil {
			c := b.Center()
			s.state.SetView(Viewport{Longitude: c[0], Latitude: c[1], Zoom: DefaultZoom})
		}
	}

	if metaOK {
		if err := s.timeline.Load(meta.TimeRange); err != nil {
			s.log.Error("time range rejected", slog.String("error", err.Error()))
		} else {
			s.log.Info("time range loaded",
				slog.Int64("min", meta.TimeRange.Min),
				slog.Int64("max", meta.TimeRange.Max))
		}
	}
	s.publishControls()
	s.publishClock()

	if _, err := s.loader.Refresh(ctx); err != nil {
		s.log.Error("initial refresh failed", slog.String("error", err.Error()))
	}
	return nil
}

// TogglePlay switches between idle and playing.
func (s *Service) TogglePlay() (PlaybackState, error) {
	st, err := s.timeline.TogglePlay()
	if err != nil {
		return st, err
	}
	s.metrics.SetPlaying(st == StatePlaying)
	s.publishControls()
	return st, nil
}

// Prev steps the timeline back by one jump.
func (s *Service) Prev() (int, error) {
	return s.step(-1)
}

// Next steps the timeline forward by one jump.
func (s *Service) Next() (int, error) {
	return s.step(1)
}

func (s *Service) step(delta int) (int, error) {
	pos, err := s.timeline.Step(delta)
	if err != nil {
		return 0, err
	}
	s.positionChanged()
	return pos, nil
}

// Scrub moves the timeline to pos, clamped to the slider range.
func (s *Service) Scrub(pos int) (int, error) {
	p, err := s.timeline.SetPosition(pos)
	if err != nil {
		return 0, err
	}
	s.positionChanged()
	return p, nil
}

// SetFilters changes the vehicle class and metric and refreshes.
func (s *Service) SetFilters(f Filters) {
	s.loader.SetFilters(f)
	s.log.Info("filters changed",
		slog.String("veh_class", string(f.VehicleClass)),
		slog.String("metric", string(f.Metric)))
	s.refreshAsync()
}

// SetLayerVisible shows or hides a layer. Hiding traffic pauses playback and
// hides the derived peak and label layers; toggling labels refreshes.
func (s *Service) SetLayerVisible(layer Layer, on bool) error {
	if _, err := ParseLayer(string(layer)); err != nil {
		return err
	}

	switch layer {
	case LayerTraffic:
		s.loader.SetTrafficVisible(on)
		if !on && s.timeline.Pause() {
			s.metrics.SetPlaying(false)
			s.log.Info("playback paused, traffic layer hidden")
		}
		s.renderer.SetProps(LayerTraffic, LayerProps{Visible: boolPtr(on)})
		s.renderer.SetProps(LayerPeak, LayerProps{Visible: boolPtr(on)})
		s.renderer.SetProps(LayerLabels, LayerProps{Visible: boolPtr(on && s.loader.LabelsVisible())})
		s.publishControls()
		if on {
			s.refreshAsync()
		}
	case LayerLabels:
		s.loader.SetLabelsVisible(on)
		s.renderer.SetProps(LayerLabels, LayerProps{Visible: boolPtr(on && s.loader.TrafficVisible())})
		s.refreshAsync()
	default:
		s.renderer.SetProps(layer, LayerProps{Visible: boolPtr(on)})
	}
	return nil
}

// Refresh runs one refresh cycle synchronously.
func (s *Service) Refresh(ctx context.Context) (Frame, error) {
	return s.loader.Refresh(ctx)
}

// Status returns the current player state.
func (s *Service) Status() Status {
	return Status{
		Timeline: s.timeline.Snapshot(),
		Filters:  s.loader.Filters(),
		Labels:   s.loader.LabelsVisible(),
		Render:   s.state.Snapshot(),
	}
}

// Snapshot returns the rendered state for a newly connected map page.
func (s *Service) Snapshot() any {
	return s.state.Snapshot()
}

// Close stops playback, cancels fetches in flight and waits for background
// refreshes to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.timeline.Pause()
	s.metrics.SetPlaying(false)
	s.cancel()
	s.wg.Wait()
}

func (s *Service) onTick(int) {
	s.positionChanged()
}

func (s *Service) positionChanged() {
	s.publishControls()
	s.publishClock()
	s.refreshAsync()
}

func (s *Service) refreshAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.loader.Refresh(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("refresh failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) publishControls() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	snap := s.timeline.Snapshot()
	s.renderer.SetControls(Controls{
		Enabled:   snap.State != StateDisabled,
		Playing:   snap.State == StatePlaying,
		Position:  snap.Position,
		SliderMax: snap.SliderMax,
	})
}

func (s *Service) publishClock() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	epoch, ok := s.timeline.SliderEpoch()
	if !ok {
		return
	}
	date, clock := FormatEpoch(epoch, s.loc)
	s.renderer.SetText(TextDate, date)
	s.renderer.SetText(TextTime, clock)
}
