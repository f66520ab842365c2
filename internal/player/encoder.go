package player

import (
	"math"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// Color ramp stops. These values are a visual contract with the map page.
var (
	ColorLow     = RGBA{46, 127, 255, 255}
	ColorMedium  = RGBA{39, 209, 124, 255}
	ColorHigh    = RGBA{255, 212, 77, 255}
	ColorExtreme = RGBA{255, 59, 59, 255}
)

// Line variants of the ramp, slightly translucent.
var (
	LineColorLow     = RGBA{46, 127, 255, 210}
	LineColorMedium  = RGBA{39, 209, 124, 210}
	LineColorHigh    = RGBA{255, 212, 77, 210}
	LineColorExtreme = RGBA{255, 59, 59, 220}
)

const (
	stopMedium  = 0.33
	stopHigh    = 0.66
	stopExtreme = 0.90
)

// Ratio normalizes value into [0,1] against stats. A degenerate range or a
// non-finite value yields 0.
func Ratio(value float64, stats Stats) float64 {
	if !isFinite(value) || !(stats.Max > stats.Min) {
		return 0
	}
	r := (value - stats.Min) / (stats.Max - stats.Min)
	if math.IsNaN(r) {
		return 0
	}
	return clamp(r, 0, 1)
}

// ColorFor maps a ratio onto the four-stop step ramp. Steps are not interpolated.
func ColorFor(ratio float64) RGBA {
	return ramp(ratio, ColorLow, ColorMedium, ColorHigh, ColorExtreme)
}

// LineColorFor is ColorFor for road lines.
func LineColorFor(ratio float64) RGBA {
	return ramp(ratio, LineColorLow, LineColorMedium, LineColorHigh, LineColorExtreme)
}

func ramp(ratio float64, low, medium, high, extreme RGBA) RGBA {
	switch {
	case ratio < stopMedium:
		return low
	case ratio < stopHigh:
		return medium
	case ratio < stopExtreme:
		return high
	default:
		return extreme
	}
}

// MarkerSize derives the peak marker size from a vehicle count.
func MarkerSize(vehicles float64) float64 {
	if !isFinite(vehicles) {
		vehicles = 0
	}
	return clamp(14+math.Sqrt(math.Max(vehicles, 0))*6, 22, 56)
}

// LineWidth derives a road line width in pixels from a vehicle count.
func LineWidth(vehicles float64) float64 {
	if !isFinite(vehicles) || vehicles < 0 {
		return 3
	}
	return clamp(math.Sqrt(vehicles)/1.6, 3, 9)
}

// LayerLineWidth is LineWidth clamped to the range the line layer accepts.
func LayerLineWidth(vehicles float64) float64 {
	return clamp(LineWidth(vehicles), 2, 7)
}

// StyleFeatures writes "color" and "width" properties on every feature so the
// map page can draw the traffic layer without re-deriving encodings.
func StyleFeatures(fc *geojson.FeatureCollection, stats Stats) {
	if fc == nil {
		return
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		value, ok := numericProp(f.Properties, "value")
		ratio := 0.0
		if ok {
			ratio = Ratio(value, stats)
		}
		vehicles, _ := numericProp(f.Properties, "vehicles")
		f.Properties["color"] = LineColorFor(ratio)
		f.Properties["width"] = LayerLineWidth(vehicles)
	}
}

// numericProp returns a finite number stored under key.
func numericProp(props geojson.Properties, key string) (float64, bool) {
	var v float64
	switch raw := props[key].(type) {
	case float64:
		v = raw
	case float32:
		v = float64(raw)
	case int:
		v = float64(raw)
	case int64:
		v = float64(raw)
	case json.Number:
		f, err := raw.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if !isFinite(v) {
		return 0, false
	}
	return v, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
