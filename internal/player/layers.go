package player

import (
	"errors"
	"sync"
)

// Layer names a logical map layer on the rendering side.
type Layer string

const (
	LayerRoads     Layer = "roads"
	LayerBuildings Layer = "buildings"
	LayerTraffic   Layer = "traffic"
	LayerPeak      Layer = "peak"
	LayerLabels    Layer = "labels"
)

// Layers lists every layer in drawing order.
var Layers = []Layer{LayerRoads, LayerBuildings, LayerTraffic, LayerPeak, LayerLabels}

// ErrUnknownLayer is returned for a layer name outside Layers.
var ErrUnknownLayer = errors.New("unknown layer")

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == s {
			return l, nil
		}
	}
	return "", ErrUnknownLayer
}

// TextField names a text readout on the map page.
type TextField string

const (
	TextLegendMin TextField = "legend_min"
	TextLegendMax TextField = "legend_max"
	TextDate      TextField = "date"
	TextTime      TextField = "time"
)

// LayerProps is a setProps-style partial update: nil fields are left as they are.
type LayerProps struct {
	Data    any   `json:"data,omitempty"`
	Visible *bool `json:"visible,omitempty"`
}

// Controls is the state of the timeline controls.
type Controls struct {
	Enabled   bool `json:"enabled"`
	Playing   bool `json:"playing"`
	Position  int  `json:"position"`
	SliderMax int  `json:"slider_max"`
}

// Renderer is the boundary to the map page. Every call is a full
// replacement of the named piece of state.
type Renderer interface {
	SetProps(layer Layer, props LayerProps)
	SetText(field TextField, text string)
	SetControls(c Controls)
}

func boolPtr(b bool) *bool { return &b }

// LayerSnapshot is the merged state of one layer.
type LayerSnapshot struct {
	Data    any  `json:"data"`
	Visible bool `json:"visible"`
}

// StateSnapshot is the full rendering state, as served to new map pages.
type StateSnapshot struct {
	Layers   map[Layer]LayerSnapshot `json:"layers"`
	Text     map[TextField]string    `json:"text"`
	Controls Controls                `json:"controls"`
	View     *Viewport               `json:"view,omitempty"`
}

// LayerState is an in-memory Renderer that keeps the latest state of every
// layer. It is safe for concurrent use.
type LayerState struct {
	mu       sync.RWMutex
	layers   map[Layer]LayerSnapshot
	text     map[TextField]string
	controls Controls
	view     *Viewport
}

// NewLayerState returns a state with every layer visible and empty.
func NewLayerState() *LayerState {
	s := &LayerState{
		layers: make(map[Layer]LayerSnapshot, len(Layers)),
		text:   make(map[TextField]string),
	}
	for _, l := range Layers {
		s.layers[l] = LayerSnapshot{Visible: true}
	}
	return s
}

// SetProps implements Renderer.SetProps.
func (s *LayerState) SetProps(layer Layer, props LayerProps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.layers[layer]
	if props.Data != nil {
		cur.Data = props.Data
	}
	if props.Visible != nil {
		cur.Visible = *props.Visible
	}
	s.layers[layer] = cur
}

// SetText implements Renderer.SetText.
func (s *LayerState) SetText(field TextField, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text[field] = text
}

// SetControls implements Renderer.SetControls.
func (s *LayerState) SetControls(c Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = c
}

// SetView records the initial camera position.
func (s *LayerState) SetView(v Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = &v
}

// Layer returns the merged state of one layer.
func (s *LayerState) Layer(l Layer) LayerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers[l]
}

// Text returns one text readout.
func (s *LayerState) Text(f TextField) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text[f]
}

// Controls returns the last controls state.
func (s *LayerState) Controls() Controls {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controls
}

// Snapshot copies the whole state. Layer data values are shared, not deep
// copied; they are replaced wholesale and never mutated after being set.
func (s *LayerState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StateSnapshot{
		Layers:   make(map[Layer]LayerSnapshot, len(s.layers)),
		Text:     make(map[TextField]string, len(s.text)),
		Controls: s.controls,
	}
	for k, v := range s.layers {
		snap.Layers[k] = v
	}
	for k, v := range s.text {
		snap.Text[k] = v
	}
	if s.view != nil {
		v := *s.view
		snap.View = &v
	}
	return snap
}

// Fanout forwards every update to each renderer in order.
type Fanout []Renderer

// SetProps implements Renderer.SetProps.
func (f Fanout) SetProps(layer Layer, props LayerProps) {
	for _, r := range f {
		r.SetProps(layer, props)
	}
}

// SetText implements Renderer.SetText.
func (f Fanout) SetText(field TextField, text string) {
	for _, r := range f {
		r.SetText(field, text)
	}
}

// SetControls implements Renderer.SetControls.
func (f Fanout) SetControls(c Controls) {
	for _, r := range f {
		r.SetControls(c)
	}
}

// Broadcaster publishes typed messages to connected map pages.
type Broadcaster interface {
	Broadcast(kind string, data any)
}

// Message kinds sent by BroadcastRenderer.
const (
	MessageLayer    = "layer"
	MessageText     = "text"
	MessageControls = "controls"
)

type layerMessage struct {
	Layer Layer `json:"layer"`
	LayerProps
}

type textMessage struct {
	Field TextField `json:"field"`
	Text  string    `json:"text"`
}

// BroadcastRenderer turns renderer calls into broadcast messages.
type BroadcastRenderer struct {
	B Broadcaster
}

// SetProps implements Renderer.SetProps.
func (r BroadcastRenderer) SetProps(layer Layer, props LayerProps) {
	r.B.Broadcast(MessageLayer, layerMessage{Layer: layer, LayerProps: props})
}

// SetText implements Renderer.SetText.
func (r BroadcastRenderer) SetText(field TextField, text string) {
	r.B.Broadcast(MessageText, textMessage{Field: field, Text: text})
}

// SetControls implements Renderer.SetControls.
func (r BroadcastRenderer) SetControls(c Controls) {
	r.B.Broadcast(MessageControls, c)
}
