package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

const (
	// VehicleIDField is the wire name of the vehicle identifier.
	VehicleIDField      = "bus_id"
	LastUpdateField     = "last_update"
	PassengerCountField = "passenger_count"
	CrowdDensityField   = "crowd_density"
)

// VehicleState is the latest record reported for one vehicle. Fields holds
// the submitted record verbatim; LastUpdate is stamped by the store in
// milliseconds since the epoch and always wins over a submitted last_update.
type VehicleState struct {
	VehicleID  string
	Fields     map[string]any
	LastUpdate int64
}

// Position returns the vehicle's position when it reported a usable one.
func (v VehicleState) Position() (Position, bool) {
	return PositionFrom(v.Fields[GPSField])
}

// MarshalJSON emits the submitted record plus last_update.
func (v VehicleState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Fields)+1)
	maps.Copy(out, v.Fields)
	out[LastUpdateField] = v.LastUpdate
	return json.Marshal(out)
}

// DecodeFields parses an update payload into an open field bag. Numbers are
// kept as json.Number so that values round-trip exactly.
func DecodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &ClientInputError{Message: "Invalid JSON", Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	if fields == nil {
		return nil, missingVehicleID()
	}
	return fields, nil
}

// VehicleIDFrom returns the vehicle identifier carried by an update. Empty
// strings, zero, false and null are treated as missing.
func VehicleIDFrom(fields map[string]any) (string, error) {
	switch id := fields[VehicleIDField].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		if f, err := id.Float64(); err == nil && f != 0 {
			return numericID(f), nil
		}
	case float64:
		if id != 0 && !math.IsNaN(id) {
			return numericID(id), nil
		}
	}
	return "", missingVehicleID()
}

// numericID renders a numeric id in its shortest decimal form so that 7,
// 7.0 and 7e0 name the same vehicle.
func numericID(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NearestResult is the projection of a vehicle returned by a nearest query.
// Position carries the gps value as the device reported it.
type NearestResult struct {
	VehicleID      string `json:"bus_id"`
	Position       any    `json:"gps"`
	PassengerCount any    `json:"passenger_count,omitempty"`
	CrowdDensity   any    `json:"crowd_density,omitempty"`
	DistanceMeters int64  `json:"distance_m"`
	LastUpdate     int64  `json:"last_update"`
}
