package nearest

import (
	"math"
	"strconv"
	"strings"

	"github.com/ukydev/where-is-my-bus/internal/models"
)

// ParseQuery validates raw query parameters. lat and lng must be finite
// numbers. An absent or non-numeric limit falls back to the engine default,
// a numeric limit of zero or less asks for no results, and anything above
// the engine maximum is clamped. radius is optional.
func (e *Engine) ParseQuery(lat, lng, limit, radius string) (Query, error) {
	q := Query{Limit: e.parseLimit(limit)}

	var ok bool
	if q.Lat, ok = parseFinite(lat); !ok {
		return Query{}, models.InvalidCoordinates("lat")
	}
	if q.Lng, ok = parseFinite(lng); !ok {
		return Query{}, models.InvalidCoordinates("lng")
	}

	if strings.TrimSpace(radius) != "" {
		r, ok := parseFinite(radius)
		if !ok || r < 0 {
			return Query{}, &models.ClientInputError{
				Field:   "radius",
				Message: "Invalid radius",
				Err:     models.ErrInvalidCoordinates,
			}
		}
		q.Radius = r
	}

	return q, nil
}

func (e *Engine) parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return e.defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		f, ok := parseFinite(raw)
		if !ok {
			return e.defaultLimit
		}
		n = int(math.Max(math.Min(math.Trunc(f), float64(e.maxLimit)), 0))
	}
	if n < 0 {
		return 0
	}
	if n > e.maxLimit {
		return e.maxLimit
	}
	return n
}

func parseFinite(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
