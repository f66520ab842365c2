package player

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundsOf_points(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{0, 0}))
	fc.Append(geojson.NewFeature(orb.Point{10, 5}))

	b := BoundsOf(fc)
	require.NotNil(t, b)
	assert.Equal(t, Bounds{{0, 0}, {10, 5}}, *b)
	assert.Equal(t, [2]float64{5, 2.5}, b.Center())
}

func TestBoundsOf_empty(t *testing.T) {
	assert.Nil(t, BoundsOf(geojson.NewFeatureCollection()))
	assert.Nil(t, BoundsOf(nil))

	fc := geojson.NewFeatureCollection()
	fc.Append(&geojson.Feature{Type: "Feature"})
	assert.Nil(t, BoundsOf(fc), "feature without geometry")
}

func TestBoundsOf_nested_geometries(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{1, 1}, {2, 3}}))
	fc.Append(geojson.NewFeature(orb.MultiPolygon{
		{{{-4, 0}, {0, 0}, {0, 2}, {-4, 0}}},
		{{{5, -1}, {6, -1}, {6, 0}, {5, -1}}},
	}))
	fc.Append(geojson.NewFeature(orb.Collection{orb.Point{0, 9}}))

	b := BoundsOf(fc)
	require.NotNil(t, b)
	assert.Equal(t, Bounds{{-4, -1}, {6, 9}}, *b)
}

func TestLineMidpoint_endpoints_only(t *testing.T) {
	mid, ok := LineMidpoint([]orb.Point{{0, 0}, {4, 2}, {10, 10}})
	require.True(t, ok)
	assert.Equal(t, [2]float64{5, 5}, mid)
}

func TestLineMidpoint_too_short(t *testing.T) {
	_, ok := LineMidpoint([]orb.Point{{1, 1}})
	assert.False(t, ok)
	_, ok = LineMidpoint(nil)
	assert.False(t, ok)
}

func TestLineCoords(t *testing.T) {
	pts, ok := lineCoords(orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}})
	require.True(t, ok)
	assert.Len(t, pts, 4)

	_, ok = lineCoords(orb.Point{1, 2})
	assert.False(t, ok)
	_, ok = lineCoords(orb.Polygon{})
	assert.False(t, ok)
}
