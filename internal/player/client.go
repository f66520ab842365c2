package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"traffic-map/internal/platform/metrics"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Endpoint names, also used as the fetch error metric label.
const (
	EndpointTraffic   = "traffic"
	EndpointMeta      = "meta"
	EndpointRoads     = "roads_static"
	EndpointBuildings = "buildings"
)

// DefaultBuildingsLimit caps the buildings request.
const DefaultBuildingsLimit = 1000

var (
	// ErrUnexpectedStatus is returned for a non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status from traffic service")
	// ErrMalformedMeta is returned when /meta carries no usable time range.
	ErrMalformedMeta = errors.New("meta response has no usable time range")
)

// ClientConfig configures a Client. Zero fields take defaults.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	Metrics        *metrics.Metrics
}

// Client talks to the traffic data service. It does not retry.
type Client struct {
	base string
	http *http.Client
	// One breaker per endpoint, so failing static loads never block traffic frames.
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	metrics  *metrics.Metrics
}

// NewClient returns a Client for cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 10 * time.Second
	}
	failures := cfg.BreakerFailures
	breakers := make(map[string]*gobreaker.CircuitBreaker[[]byte], 4)
	for _, endpoint := range []string{EndpointTraffic, EndpointMeta, EndpointRoads, EndpointBuildings} {
		breakers[endpoint] = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "traffic-service/" + endpoint,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// A cancelled request says nothing about the service.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		http:     cfg.HTTPClient,
		breakers: breakers,
		metrics:  cfg.Metrics,
	}
}

// BreakerState reports the circuit breaker state of one endpoint.
func (c *Client) BreakerState(endpoint string) string {
	cb, ok := c.breakers[endpoint]
	if !ok {
		return ""
	}
	return cb.State().String()
}

// FetchTraffic requests one frame. A transport failure or non-2xx status is
// returned as an error; a body that is not a FeatureCollection is returned as
// an empty collection with PayloadNormalized.
func (c *Client) FetchTraffic(ctx context.Context, q TrafficQuery) (TrafficPayload, error) {
	params := url.Values{}
	params.Set("fr", strconv.FormatInt(q.Window.From, 10))
	params.Set("to", strconv.FormatInt(q.Window.To, 10))
	params.Set("veh_class", string(q.Filters.VehicleClass))
	params.Set("metric", string(q.Filters.Metric))

	body, err := c.get(ctx, EndpointTraffic, "/traffic", params, true)
	if err != nil {
		return TrafficPayload{}, err
	}
	return decodeTraffic(body), nil
}

// FetchMeta requests the time range and optional viewport.
func (c *Client) FetchMeta(ctx context.Context) (Meta, error) {
	body, err := c.get(ctx, EndpointMeta, "/meta", nil, false)
	if err != nil {
		return Meta{}, err
	}
	return decodeMeta(body)
}

// FetchRoads requests the static road network.
func (c *Client) FetchRoads(ctx context.Context) (*geojson.FeatureCollection, error) {
	body, err := c.get(ctx, EndpointRoads, "/roads_static", nil, false)
	if err != nil {
		return nil, err
	}
	return decodeCollection(EndpointRoads, body)
}

// FetchBuildings requests at most limit building footprints.
func (c *Client) FetchBuildings(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	if limit <= 0 {
		limit = DefaultBuildingsLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, EndpointBuildings, "/buildings", params, false)
	if err != nil {
		return nil, err
	}
	return decodeCollection(EndpointBuildings, body)
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, noCache bool) ([]byte, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, err := c.breakers[endpoint].Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if noCache {
			req.Header.Set("Cache-Control", "no-cache")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		c.metrics.IncFetchError(endpoint)
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return body, nil
}

type collectionEnvelope struct {
	Type     string          `json:"type"`
	Features json.RawMessage `json:"features"`
	Stats    json.RawMessage `json:"stats"`
}

// decodeTraffic never fails: anything that is not a FeatureCollection with a
// features array becomes an empty collection.
func decodeTraffic(body []byte) TrafficPayload {
	var env collectionEnvelope
	if err := json.Unmarshal(body, &env); err != nil || !env.isCollection() {
		return TrafficPayload{Collection: geojson.NewFeatureCollection(), Status: PayloadNormalized}
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return TrafficPayload{Collection: geojson.NewFeatureCollection(), Status: PayloadNormalized}
	}
	dropNilFeatures(fc)
	return TrafficPayload{Collection: fc, Stats: decodeStats(env.Stats), Status: PayloadOK}
}

// decodeStats keeps whatever bounds are finite numbers.
func decodeStats(raw json.RawMessage) RawStats {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return RawStats{}
	}
	return RawStats{Min: statField(fields, "min"), Max: statField(fields, "max")}
}

func (e collectionEnvelope) isCollection() bool {
	if e.Type != "FeatureCollection" {
		return false
	}
	raw := strings.TrimSpace(string(e.Features))
	return strings.HasPrefix(raw, "[")
}

func statField(stats map[string]json.RawMessage, key string) *float64 {
	raw, ok := stats[key]
	if !ok {
		return nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return finitePtr(v)
}

func decodeCollection(endpoint string, body []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	dropNilFeatures(fc)
	return fc, nil
}

func dropNilFeatures(fc *geojson.FeatureCollection) {
	kept := fc.Features[:0]
	for _, f := range fc.Features {
		if f != nil {
			kept = append(kept, f)
		}
	}
	fc.Features = kept
}

type metaEnvelope struct {
	Traffic *struct {
		TimeMin any `json:"time_min"`
		TimeMax any `json:"time_max"`
	} `json:"traffic"`
	TrafficTimeRange *struct {
		Min any `json:"min"`
		Max any `json:"max"`
	} `json:"traffic_time_range"`
	Viewport *Viewport `json:"viewport"`
}

// decodeMeta accepts {traffic:{time_min,time_max}} and
// {traffic_time_range:{min,max}}, preferring the former.
func decodeMeta(body []byte) (Meta, error) {
	var env metaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Meta{}, fmt.Errorf("decode meta: %w", err)
	}

	var lo, hi any
	switch {
	case env.Traffic != nil && env.Traffic.TimeMin != nil && env.Traffic.TimeMax != nil:
		lo, hi = env.Traffic.TimeMin, env.Traffic.TimeMax
	case env.TrafficTimeRange != nil:
		lo, hi = env.TrafficTimeRange.Min, env.TrafficTimeRange.Max
	default:
		return Meta{}, ErrMalformedMeta
	}

	minSec, okMin := ToEpochSeconds(lo)
	maxSec, okMax := ToEpochSeconds(hi)
	if !okMin || !okMax {
		return Meta{}, ErrMalformedMeta
	}
	r := TimeRange{Min: minSec, Max: maxSec}
	if !r.Valid() {
		return Meta{}, fmt.Errorf("%w: min %d after max %d", ErrInvalidTimeRange, minSec, maxSec)
	}
	return Meta{TimeRange: r, Viewport: env.Viewport}, nil
}
