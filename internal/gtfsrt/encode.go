package gtfsrt

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/ukydev/where-is-my-bus/internal/models"
	"google.golang.org/protobuf/proto"
)

const realtimeVersion = "2.0"

// Encode builds a FULL_DATASET VehiclePositions feed. Vehicles without a
// usable position are left out.
func Encode(vehicles []models.VehicleState, now time.Time) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(realtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(vehicles)),
	}

	for _, v := range vehicles {
		pos, ok := v.Position()
		if !ok {
			continue
		}
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id:      proto.String(v.VehicleID),
			Vehicle: vehiclePosition(v, pos),
		})
	}
	return feed
}

// Marshal encodes the feed in the protobuf wire format.
func Marshal(vehicles []models.VehicleState, now time.Time) ([]byte, error) {
	return proto.Marshal(Encode(vehicles, now))
}

func vehiclePosition(v models.VehicleState, pos models.Position) *gtfs.VehiclePosition {
	vp := &gtfs.VehiclePosition{
		Vehicle: &gtfs.VehicleDescriptor{Id: proto.String(v.VehicleID)},
		Position: &gtfs.Position{
			Latitude:  proto.Float32(float32(pos.Lat)),
			Longitude: proto.Float32(float32(pos.Lng)),
		},
	}
	if v.LastUpdate > 0 {
		vp.Timestamp = proto.Uint64(uint64(v.LastUpdate / 1000))
	}
	if bearing, ok := models.Float(v.Fields["bearing"]); ok {
		vp.Position.Bearing = proto.Float32(float32(bearing))
	}
	if speed, ok := models.Float(v.Fields["speed"]); ok {
		vp.Position.Speed = proto.Float32(float32(speed))
	}

	routeID, _ := v.Fields["route_id"].(string)
	tripID, _ := v.Fields["trip_id"].(string)
	if routeID != "" || tripID != "" {
		vp.Trip = &gtfs.TripDescriptor{}
		if routeID != "" {
			vp.Trip.RouteId = proto.String(routeID)
		}
		if tripID != "" {
			vp.Trip.TripId = proto.String(tripID)
		}
	}

	if status, ok := OccupancyFromDensity(v.Fields[models.CrowdDensityField]); ok {
		vp.OccupancyStatus = status.Enum()
	}
	return vp
}
