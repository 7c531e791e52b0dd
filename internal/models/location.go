package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GPSField is the key under which devices report their position.
const GPSField = "gps"

// PositionFrom extracts a usable position from a device-reported gps value.
// The value must be an object carrying finite lat and lng numbers; numeric
// strings are accepted since some trackers quote every value.
func PositionFrom(gps any) (Position, bool) {
	obj, ok := gps.(map[string]any)
	if !ok {
		return Position{}, false
	}
	lat, ok := Float(obj["lat"])
	if !ok {
		return Position{}, false
	}
	lng, ok := Float(obj["lng"])
	if !ok {
		return Position{}, false
	}
	return Position{Lat: lat, Lng: lng}, true
}

// Float coerces a decoded JSON value to a finite float64.
func Float(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// GPS renders a position the way devices report it.
func (p Position) GPS() map[string]any {
	return map[string]any{"lat": p.Lat, "lng": p.Lng}
}
