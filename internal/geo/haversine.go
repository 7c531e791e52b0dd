package geo

import "math"

// EarthRadiusMeters is the mean radius of the spherical Earth model.
const EarthRadiusMeters = 6_371_000.0

// metersPerDegreeLat is the length of one degree of latitude on the sphere.
const metersPerDegreeLat = math.Pi / 180 * EarthRadiusMeters

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := toRad(lat1)
	lat2r := toRad(lat2)
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// InRange reports whether lat and lon lie within [-90, 90] and [-180, 180].
func InRange(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// BoundingBox is a lat/lon rectangle in decimal degrees.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// BoundingBoxAround returns a box that contains every point within radius
// meters of (lat, lon). The box is conservative: it may contain points
// farther than radius, never fewer. Near the poles, or when the radius spans
// the antimeridian, the longitude range widens to the full [-180, 180].
// (lat, lon) must satisfy InRange.
func BoundingBoxAround(lat, lon, radius float64) BoundingBox {
	dLat := radius / metersPerDegreeLat
	box := BoundingBox{
		MinLat: math.Max(lat-dLat, -90),
		MaxLat: math.Min(lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		return box
	}

	// Widen by the latitude of the box edge closest to a pole, where a
	// degree of longitude is shortest.
	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	cosLat := math.Cos(toRad(maxAbsLat))
	if cosLat <= 0 {
		return box
	}
	dLon := radius / (metersPerDegreeLat * cosLat)
	if dLon >= 180 || lon-dLon < -180 || lon+dLon > 180 {
		return box
	}
	box.MinLon = lon - dLon
	box.MaxLon = lon + dLon
	return box
}
