package gtfsrt

import (
	"fmt"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/ukydev/where-is-my-bus/internal/models"
	"google.golang.org/protobuf/proto"
)

// Decode parses a VehiclePositions feed into update records keyed by
// bus_id. Entities without a vehicle id or a position are skipped.
func Decode(data []byte) ([]map[string]any, error) {
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("unmarshal gtfs-rt feed: %w", err)
	}

	updates := make([]map[string]any, 0, len(feed.Entity))
	for _, ent := range feed.Entity {
		if ent == nil || ent.Vehicle == nil || ent.GetIsDeleted() {
			continue
		}
		if fields, ok := updateFromVehicle(ent.Vehicle); ok {
			updates = append(updates, fields)
		}
	}
	return updates, nil
}

func updateFromVehicle(vp *gtfs.VehiclePosition) (map[string]any, bool) {
	id := vp.GetVehicle().GetId()
	if id == "" || vp.Position == nil || vp.Position.Latitude == nil || vp.Position.Longitude == nil {
		return nil, false
	}

	pos := models.Position{
		Lat: float64(vp.Position.GetLatitude()),
		Lng: float64(vp.Position.GetLongitude()),
	}
	fields := map[string]any{
		models.VehicleIDField: id,
		models.GPSField:       pos.GPS(),
		"source":              "gtfs-rt",
	}
	if vp.Position.Bearing != nil {
		fields["bearing"] = float64(vp.Position.GetBearing())
	}
	if vp.Position.Speed != nil {
		fields["speed"] = float64(vp.Position.GetSpeed())
	}
	if routeID := vp.GetTrip().GetRouteId(); routeID != "" {
		fields["route_id"] = routeID
	}
	if tripID := vp.GetTrip().GetTripId(); tripID != "" {
		fields["trip_id"] = tripID
	}
	if vp.OccupancyStatus != nil {
		fields[models.CrowdDensityField] = vp.GetOccupancyStatus().String()
	}
	if label := vp.GetVehicle().GetLabel(); label != "" {
		fields["label"] = label
	}
	return fields, true
}
