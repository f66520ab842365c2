package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"traffic-map/internal/platform/clock"
	"traffic-map/internal/platform/logger"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("service down")

type fakeDataClient struct {
	mu        sync.Mutex
	meta      Meta
	metaErr   error
	roads     *geojson.FeatureCollection
	roadsErr  error
	buildings *geojson.FeatureCollection
	limit     int
	queries   []TrafficQuery
}

func (c *fakeDataClient) FetchMeta(context.Context) (Meta, error) {
	return c.meta, c.metaErr
}

func (c *fakeDataClient) FetchRoads(context.Context) (*geojson.FeatureCollection, error) {
	return c.roads, c.roadsErr
}

func (c *fakeDataClient) FetchBuildings(_ context.Context, limit int) (*geojson.FeatureCollection, error) {
	c.mu.Lock()
	c.limit = limit
	c.mu.Unlock()
	if c.buildings == nil {
		return nil, errDown
	}
	return c.buildings, nil
}

func (c *fakeDataClient) FetchTraffic(_ context.Context, q TrafficQuery) (TrafficPayload, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	return payload(RawStats{Min: f64(0), Max: f64(10)},
		lineFeature(4.0, orb.Point{0, 0}, orb.Point{2, 2})), nil
}

func (c *fakeDataClient) lastQuery() (TrafficQuery, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return TrafficQuery{}, 0
	}
	return c.queries[len(c.queries)-1], len(c.queries)
}

func newTestService(t *testing.T, c *fakeDataClient, clk clock.Clock) *Service {
	t.Helper()
	s := NewService(c, ServiceConfig{
		Timeline:       TimelineConfig{SliderMax: 1000, Clock: clk},
		BuildingsLimit: 50,
	}, logger.Discard(), nil)
	t.Cleanup(s.Close)
	return s
}

func roadsCollection() *geojson.FeatureCollection {
	return collection(lineFeature(nil, orb.Point{10, 40}, orb.Point{12, 44}))
}

func TestService_Start(t *testing.T) {
	c := &fakeDataClient{
		meta:      Meta{TimeRange: TimeRange{Min: 0, Max: 86400}},
		roads:     roadsCollection(),
		buildings: geojson.NewFeatureCollection(),
	}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Start(context.Background()))

	st := s.Status()
	assert.Equal(t, StateIdle, st.Timeline.State)
	assert.True(t, st.Render.Controls.Enabled)
	assert.Equal(t, 1000, st.Render.Controls.SliderMax)
	assert.Same(t, c.roads, st.Render.Layers[LayerRoads].Data)
	require.NotNil(t, st.Render.View)
	assert.Equal(t, Viewport{Longitude: 11, Latitude: 42, Zoom: DefaultZoom}, *st.Render.View)
	assert.Equal(t, "01/01/1970", st.Render.Text[TextDate])
	assert.Equal(t, "00:00:00", st.Render.Text[TextTime])
	assert.Equal(t, 50, c.limit)

	_, n := c.lastQuery()
	assert.Equal(t, 1, n, "first frame rendered during start")
	assert.Equal(t, "10.00", st.Render.Text[TextLegendMax])
}

func TestService_Start_degrades_on_load_failures(t *testing.T) {
	c := &fakeDataClient{metaErr: errDown, roadsErr: errDown}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Start(context.Background()))

	st := s.Status()
	assert.Equal(t, StateDisabled, st.Timeline.State)
	assert.False(t, st.Render.Controls.Enabled)
	assert.Nil(t, st.Render.View)
	assert.Nil(t, st.Render.Layers[LayerRoads].Data)

	_, err := s.TogglePlay()
	assert.ErrorIs(t, err, ErrTimelineDisabled)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrTimelineDisabled)
	_, err = s.Scrub(10)
	assert.ErrorIs(t, err, ErrTimelineDisabled)

	_, n := c.lastQuery()
	assert.Zero(t, n, "no traffic fetch without a time range")
}

func TestService_Start_prefers_meta_viewport(t *testing.T) {
	view := Viewport{Longitude: 10.3967, Latitude: 43.7167, Zoom: 13}
	c := &fakeDataClient{
		meta:  Meta{TimeRange: TimeRange{Min: 0, Max: 10}, Viewport: &view},
		roads: roadsCollection(),
	}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, view, *s.Status().Render.View)
}

func TestService_Scrub_and_Step(t *testing.T) {
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 1000, Max: 2000}}}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, s.Start(context.Background()))

	pos, err := s.Scrub(500)
	require.NoError(t, err)
	assert.Equal(t, 500, pos)
	require.Eventually(t, func() bool {
		q, _ := c.lastQuery()
		return q.Window == TimeWindow{From: 1200, To: 1800}
	}, time.Second, 5*time.Millisecond)

	pos, err = s.Prev()
	require.NoError(t, err)
	assert.Equal(t, 480, pos)
	pos, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, 500, pos)
	assert.Equal(t, 500, s.Status().Render.Controls.Position)
}

func TestService_SetFilters_refreshes(t *testing.T) {
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 10}}}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, s.Start(context.Background()))

	f := Filters{VehicleClass: VehicleMoped, Metric: MetricCount}
	s.SetFilters(f)
	require.Eventually(t, func() bool {
		q, _ := c.lastQuery()
		return q.Filters == f
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, f, s.Status().Filters)
}

func TestService_playback_ticks_refresh(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 1000}}}
	s := newTestService(t, c, clk)
	require.NoError(t, s.Start(context.Background()))

	st, err := s.TogglePlay()
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, st)
	assert.True(t, s.Status().Render.Controls.Playing)

	require.Equal(t, 1, clk.Tick())
	require.Eventually(t, func() bool {
		_, n := c.lastQuery()
		return n == 2 && s.Status().Render.Controls.Position == DefaultTickStep
	}, time.Second, 5*time.Millisecond)

	st, err = s.TogglePlay()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st)
	assert.Zero(t, clk.Active())
}

func TestService_hiding_traffic_pauses_and_hides_derived_layers(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 1000}}}
	s := newTestService(t, c, clk)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SetLayerVisible(LayerLabels, true))

	_, err := s.TogglePlay()
	require.NoError(t, err)

	require.NoError(t, s.SetLayerVisible(LayerTraffic, false))
	st := s.Status()
	assert.Equal(t, StateIdle, st.Timeline.State)
	assert.False(t, st.Render.Controls.Playing)
	assert.False(t, st.Render.Layers[LayerTraffic].Visible)
	assert.False(t, st.Render.Layers[LayerPeak].Visible)
	assert.False(t, st.Render.Layers[LayerLabels].Visible)
	assert.Zero(t, clk.Active())

	require.NoError(t, s.SetLayerVisible(LayerTraffic, true))
	st = s.Status()
	assert.True(t, st.Render.Layers[LayerTraffic].Visible)
	assert.True(t, st.Render.Layers[LayerLabels].Visible, "labels come back with traffic when enabled")
}

func TestService_SetLayerVisible_unknown_layer(t *testing.T) {
	s := newTestService(t, &fakeDataClient{}, clock.NewManual(time.Unix(0, 0)))
	assert.ErrorIs(t, s.SetLayerVisible(Layer("weather"), true), ErrUnknownLayer)

	require.NoError(t, s.SetLayerVisible(LayerBuildings, false))
	assert.False(t, s.Status().Render.Layers[LayerBuildings].Visible)
}

func TestService_labels_toggle_refreshes_with_labels(t *testing.T) {
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 10}}}
	s := newTestService(t, c, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []LabelDescriptor{}, s.Status().Render.Layers[LayerLabels].Data)

	require.NoError(t, s.SetLayerVisible(LayerLabels, true))
	require.Eventually(t, func() bool {
		labels, _ := s.Status().Render.Layers[LayerLabels].Data.([]LabelDescriptor)
		return len(labels) == 1 && labels[0].Text == "4.00"
	}, time.Second, 5*time.Millisecond)
}

func TestService_Close_is_idempotent(t *testing.T) {
	s := newTestService(t, &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 10}}}, clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, s.Start(context.Background()))
	s.Close()
	s.Close()
	s.SetFilters(DefaultFilters())
}

// gateRenderer holds the first playing controls update until released.
type gateRenderer struct {
	mu      sync.Mutex
	armed   bool
	last    Controls
	entered chan struct{}
	release chan struct{}
}

func newGateRenderer() *gateRenderer {
	return &gateRenderer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateRenderer) SetProps(Layer, LayerProps) {}

func (g *gateRenderer) SetText(TextField, string) {}

func (g *gateRenderer) SetControls(c Controls) {
	g.mu.Lock()
	hold := g.armed && c.Playing
	if hold {
		g.armed = false
	}
	g.mu.Unlock()
	if hold {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	g.last = c
	g.mu.Unlock()
}

func (g *gateRenderer) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gateRenderer) lastControls() Controls {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func TestService_pause_is_not_overwritten_by_slow_tick_publish(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	gate := newGateRenderer()
	c := &fakeDataClient{meta: Meta{TimeRange: TimeRange{Min: 0, Max: 1000}}}
	s := NewService(c, ServiceConfig{
		Timeline: TimelineConfig{SliderMax: 1000, Clock: clk},
	}, logger.Discard(), nil, gate)
	t.Cleanup(s.Close)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.TogglePlay()
	require.NoError(t, err)
	gate.arm()

	require.Equal(t, 1, clk.Tick())
	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never published controls")
	}

	hidden := make(chan struct{})
	go func() {
		assert.NoError(t, s.SetLayerVisible(LayerTraffic, false))
		close(hidden)
	}()
	require.Eventually(t, func() bool {
		return s.timeline.State() == StateIdle
	}, time.Second, 5*time.Millisecond)

	close(gate.release)
	<-hidden

	assert.False(t, gate.lastControls().Playing)
	assert.False(t, s.Status().Render.Controls.Playing)
	assert.Equal(t, StateIdle, s.Status().Timeline.State)
}
