// Package nearest ranks stored vehicles by great-circle distance from a
// query point.
package nearest

import (
	"math"
	"sort"

	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/geo"
	"github.com/ukydev/where-is-my-bus/internal/models"
)

const (
	DefaultLimit    = 5
	DefaultMaxLimit = 100
)

// Query is a validated nearest-vehicle request.
type Query struct {
	Lat   float64
	Lng   float64
	Limit int
	// Radius in meters. Zero means unbounded.
	Radius float64
}

// Engine answers nearest queries over a VehicleStore.
type Engine struct {
	store        db.VehicleStore
	defaultLimit int
	maxLimit     int
}

// NewEngine creates an engine. Non-positive limits fall back to
// DefaultLimit and DefaultMaxLimit.
func NewEngine(store db.VehicleStore, defaultLimit, maxLimit int) *Engine {
	if defaultLimit < 1 {
		defaultLimit = DefaultLimit
	}
	if maxLimit < 1 {
		maxLimit = DefaultMaxLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Engine{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Nearest returns at most q.Limit vehicles ordered by distance from the
// query point over a snapshot of the store taken at call time.
func (e *Engine) Nearest(q Query) []models.NearestResult {
	if q.Limit <= 0 {
		return []models.NearestResult{}
	}
	if q.Limit > e.maxLimit {
		q.Limit = e.maxLimit
	}

	var candidates []models.VehicleState
	if q.Radius > 0 && geo.InRange(q.Lat, q.Lng) {
		candidates = e.store.Within(geo.BoundingBoxAround(q.Lat, q.Lng, q.Radius))
	} else {
		candidates = e.store.List()
	}
	return Rank(candidates, q)
}

type ranked struct {
	vehicle  models.VehicleState
	distance int64
}

// Rank computes the distance from the query point to every vehicle with a
// usable position, sorts the whole eligible set by rounded distance and only
// then truncates to q.Limit. Equal distances keep the input order. A
// non-positive limit returns the whole ranked set.
func Rank(vehicles []models.VehicleState, q Query) []models.NearestResult {
	eligible := make([]ranked, 0, len(vehicles))
	for _, v := range vehicles {
		pos, ok := v.Position()
		if !ok {
			continue
		}
		d := geo.Haversine(q.Lat, q.Lng, pos.Lat, pos.Lng)
		if q.Radius > 0 && d > q.Radius {
			continue
		}
		eligible = append(eligible, ranked{vehicle: v, distance: int64(math.Round(d))})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].distance < eligible[j].distance
	})

	if q.Limit > 0 && len(eligible) > q.Limit {
		eligible = eligible[:q.Limit]
	}

	results := make([]models.NearestResult, len(eligible))
	for i, r := range eligible {
		results[i] = project(r)
	}
	return results
}

func project(r ranked) models.NearestResult {
	f := r.vehicle.Fields
	return models.NearestResult{
		VehicleID:      r.vehicle.VehicleID,
		Position:       f[models.GPSField],
		PassengerCount: f[models.PassengerCountField],
		CrowdDensity:   f[models.CrowdDensityField],
		DistanceMeters: r.distance,
		LastUpdate:     r.vehicle.LastUpdate,
	}
}
