package player

import (
	"math"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// TimeRange is the span of traffic data reported by the data service, in
// epoch seconds. It is loaded once at startup and read-only afterwards.
type TimeRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Valid reports whether the range can drive the timeline.
func (r TimeRange) Valid() bool {
	return r.Min <= r.Max
}

// TimeWindow is the query window sent to the traffic endpoint.
type TimeWindow struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Viewport is the initial camera position suggested by the data service.
type Viewport struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
}

// Meta is the parsed /meta response.
type Meta struct {
	TimeRange TimeRange `json:"time_range"`
	Viewport  *Viewport `json:"viewport,omitempty"`
}

// VehicleClass selects which vehicle category the traffic values describe.
type VehicleClass string

const (
	VehicleAll        VehicleClass = "all"
	VehicleTruck      VehicleClass = "HW_truck"
	VehiclePassengers VehicleClass = "LMV_passengers"
	VehicleDelivery   VehicleClass = "MHV_deliver"
	VehicleMoped      VehicleClass = "PWA_moped"
)

// Metric selects which per-segment value the data service puts in "value".
type Metric string

const (
	MetricCount    Metric = "count"
	MetricSpeed    Metric = "speed"
	MetricRelative Metric = "relative"
)

// Filters is the active (vehicle class, metric) combination.
type Filters struct {
	VehicleClass VehicleClass `json:"veh_class"`
	Metric       Metric       `json:"metric"`
}

// DefaultFilters matches the data service defaults.
func DefaultFilters() Filters {
	return Filters{VehicleClass: VehicleAll, Metric: MetricRelative}
}

// Stats is the value range used to normalize a frame. Stats are supplied by
// the data service with every frame and never recomputed here.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultStats is used when a response carries no usable stats.
var DefaultStats = Stats{Min: 0, Max: 1}

// RawStats keeps the stats exactly as received, nil meaning absent or non-finite.
type RawStats struct {
	Min *float64
	Max *float64
}

// Effective substitutes DefaultStats field by field for missing values.
func (r RawStats) Effective() Stats {
	s := DefaultStats
	if r.Min != nil {
		s.Min = *r.Min
	}
	if r.Max != nil {
		s.Max = *r.Max
	}
	return s
}

// RGBA is a color with alpha, serialized as a 4-element array.
type RGBA [4]uint8

// MarshalJSON encodes the color as [r,g,b,a] numbers.
func (c RGBA) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{int(c[0]), int(c[1]), int(c[2]), int(c[3])})
}

// MarkerDescriptor describes the peak-value marker.
type MarkerDescriptor struct {
	Position [2]float64 `json:"position"`
	Color    RGBA       `json:"color"`
	Size     float64    `json:"size"`
	Value    float64    `json:"value"`
	Ratio    float64    `json:"ratio"`
}

// LabelDescriptor is a value label placed on a road segment.
type LabelDescriptor struct {
	Position [2]float64 `json:"position"`
	Text     string     `json:"text"`
}

// PayloadStatus tells whether a fetched payload was used as-is or replaced
// by an empty FeatureCollection.
type PayloadStatus int

const (
	PayloadOK PayloadStatus = iota
	PayloadNormalized
)

func (s PayloadStatus) String() string {
	if s == PayloadNormalized {
		return "normalized"
	}
	return "ok"
}

// TrafficQuery is one request to the traffic endpoint.
type TrafficQuery struct {
	Window  TimeWindow
	Filters Filters
}

// TrafficPayload is a normalized /traffic response.
type TrafficPayload struct {
	Collection *geojson.FeatureCollection
	Stats      RawStats
	Status     PayloadStatus
}

// RefreshOutcome describes what a refresh did.
type RefreshOutcome int

const (
	// OutcomeSkipped: traffic layer off or no time range loaded.
	OutcomeSkipped RefreshOutcome = iota
	// OutcomeRendered: the frame was pushed to the renderer.
	OutcomeRendered
	// OutcomeStale: a newer refresh was issued before this one resolved.
	OutcomeStale
	// OutcomeFailed: the traffic request failed.
	OutcomeFailed
)

func (o RefreshOutcome) String() string {
	switch o {
	case OutcomeRendered:
		return "rendered"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Frame is the result of one refresh cycle.
type Frame struct {
	Seq        uint64
	Outcome    RefreshOutcome
	Window     TimeWindow
	Filters    Filters
	Collection *geojson.FeatureCollection
	Stats      Stats
	Payload    PayloadStatus
	Peak       *MarkerDescriptor
	Labels     []LabelDescriptor
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finitePtr returns nil for nil or non-finite input.
func finitePtr(v *float64) *float64 {
	if v == nil || !isFinite(*v) {
		return nil
	}
	out := *v
	return &out
}
