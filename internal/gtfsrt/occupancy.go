package gtfsrt

import (
	"strings"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

var densityAliases = map[string]gtfs.VehiclePosition_OccupancyStatus{
	"LOW":    gtfs.VehiclePosition_MANY_SEATS_AVAILABLE,
	"MEDIUM": gtfs.VehiclePosition_FEW_SEATS_AVAILABLE,
	"HIGH":   gtfs.VehiclePosition_STANDING_ROOM_ONLY,
}

// OccupancyFromDensity maps a crowd_density value onto a GTFS-RT occupancy
// status.
func OccupancyFromDensity(density any) (gtfs.VehiclePosition_OccupancyStatus, bool) {
	s, ok := density.(string)
	if !ok {
		return 0, false
	}
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if status, ok := densityAliases[key]; ok {
		return status, true
	}
	if v, ok := gtfs.VehiclePosition_OccupancyStatus_value[key]; ok {
		return gtfs.VehiclePosition_OccupancyStatus(v), true
	}
	return 0, false
}
