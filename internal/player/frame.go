package player

import (
	"strconv"

	"github.com/paulmach/orb/geojson"
)

// BuildPeak returns the marker for the feature with the highest finite
// value, or nil when there is none or the winner is not a line. Ties keep the
// first feature seen.
func BuildPeak(fc *geojson.FeatureCollection, stats Stats) *MarkerDescriptor {
	if fc == nil {
		return nil
	}

	var (
		best     *geojson.Feature
		bestVal  float64
		haveBest bool
	)
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		v, ok := numericProp(f.Properties, "value")
		if !ok {
			continue
		}
		if !haveBest || v > bestVal {
			best, bestVal, haveBest = f, v, true
		}
	}
	if !haveBest {
		return nil
	}

	coords, ok := lineCoords(best.Geometry)
	if !ok {
		return nil
	}
	mid, ok := LineMidpoint(coords)
	if !ok {
		return nil
	}

	vehicles, _ := numericProp(best.Properties, "vehicles")
	ratio := Ratio(bestVal, stats)
	return &MarkerDescriptor{
		Position: mid,
		Color:    ColorFor(ratio),
		Size:     MarkerSize(vehicles),
		Value:    bestVal,
		Ratio:    ratio,
	}
}

// BuildLabels emits one label per line feature with a midpoint, in input
// order. The text is the value with two decimals, or empty when the value is
// missing or not finite.
func BuildLabels(fc *geojson.FeatureCollection) []LabelDescriptor {
	labels := []LabelDescriptor{}
	if fc == nil {
		return labels
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		coords, ok := lineCoords(f.Geometry)
		if !ok {
			continue
		}
		mid, ok := LineMidpoint(coords)
		if !ok {
			continue
		}
		text := ""
		if v, ok := numericProp(f.Properties, "value"); ok {
			text = formatFixed2(v)
		}
		labels = append(labels, LabelDescriptor{Position: mid, Text: text})
	}
	return labels
}

// PeakList wraps the optional peak as the zero- or one-element list the
// marker layer expects.
func PeakList(peak *MarkerDescriptor) []MarkerDescriptor {
	if peak == nil {
		return []MarkerDescriptor{}
	}
	return []MarkerDescriptor{*peak}
}

func formatFixed2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
