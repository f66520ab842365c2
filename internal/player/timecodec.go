package player

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// msThreshold separates epoch seconds from epoch milliseconds. Any value
// below it is taken to already be in seconds.
const msThreshold = 1e10

// Date and clock layouts used for the timeline readout.
const (
	dateLayout  = "02/01/2006"
	clockLayout = "15:04:05"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ToEpochSeconds converts a number, numeric string, date string or time.Time
// into integer epoch seconds. ok is false when the input has no finite
// timestamp.
func ToEpochSeconds(value any) (sec int64, ok bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case time.Time:
		if v.IsZero() {
			return 0, false
		}
		return v.Unix(), true
	case float64:
		return numberToSeconds(v)
	case float32:
		return numberToSeconds(float64(v))
	case int:
		return numberToSeconds(float64(v))
	case int64:
		if v < msThreshold {
			return v, true
		}
		return floorDiv(v, 1000), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return ToEpochSeconds(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return numberToSeconds(f)
	case string:
		return parseDateString(v)
	default:
		return 0, false
	}
}

func numberToSeconds(v float64) (int64, bool) {
	if !isFinite(v) {
		return 0, false
	}
	sec := math.Floor(v)
	if v >= msThreshold {
		sec = math.Floor(v / 1000)
	}
	if sec < math.MinInt64 || sec >= math.MaxInt64 {
		return 0, false
	}
	return int64(sec), true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func parseDateString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return numberToSeconds(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// FormatEpoch renders epoch seconds as a day/month/year date and a 24h
// hh:mm:ss clock in loc. A nil loc means UTC.
func FormatEpoch(sec int64, loc *time.Location) (date, clock string) {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Unix(sec, 0).In(loc)
	return t.Format(dateLayout), t.Format(clockLayout)
}
