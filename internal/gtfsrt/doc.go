// Package gtfsrt converts between stored vehicle states and GTFS-Realtime
// VehiclePositions feeds.
//
// Encoding publishes the live fleet so that any GTFS-RT consumer (trip
// planners, SIRI converters, map visualisers) can read it. Decoding turns an
// upstream VehiclePositions feed into update records with the same shape a
// tracker would POST, so both paths share one validation and storage route.
//
// Optional telemetry maps onto the feed as follows:
//
//	gps.lat / gps.lng   Position.latitude / Position.longitude
//	bearing, speed      Position.bearing / Position.speed
//	route_id, trip_id   TripDescriptor
//	crowd_density       OccupancyStatus (enum name, or low/medium/high)
//	last_update         VehiclePosition.timestamp (seconds)
package gtfsrt
