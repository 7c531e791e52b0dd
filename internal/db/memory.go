package db

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/rtree"
	"github.com/ukydev/where-is-my-bus/internal/geo"
	"github.com/ukydev/where-is-my-bus/internal/models"
)

// MemoryStore is a process-local VehicleStore. Writers are serialized and
// readers see a consistent snapshot of the whole key set. Vehicles with a
// usable position are also kept in an R-tree for bounding-box lookups.
// Positions outside the WGS84 ranges cannot be placed in the tree; they are
// tracked separately and returned by every Within call.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*storedVehicle
	order   []string
	index   rtree.RTreeG[string]
	// positioned entries the index cannot hold
	outOfRange map[string]struct{}
	now        func() time.Time
}

type storedVehicle struct {
	state   models.VehicleState
	seq     int
	pos     models.Position
	indexed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*storedVehicle),
		outOfRange: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Upsert stores a shallow copy of fields under vehicleID, overwriting any
// previous record for that id.
func (s *MemoryStore) Upsert(vehicleID string, fields map[string]any) (models.VehicleState, error) {
	if vehicleID == "" {
		return models.VehicleState{}, &models.ClientInputError{
			Field:   models.VehicleIDField,
			Message: "Missing bus_id",
			Err:     models.ErrMissingVehicleID,
		}
	}

	state := models.VehicleState{
		VehicleID: vehicleID,
		Fields:    maps.Clone(fields),
	}
	if state.Fields == nil {
		state.Fields = map[string]any{}
	}
	pos, hasPos := state.Position()

	s.mu.Lock()
	defer s.mu.Unlock()

	state.LastUpdate = s.now().UnixMilli()

	entry, exists := s.entries[vehicleID]
	if !exists {
		entry = &storedVehicle{seq: len(s.order)}
		s.entries[vehicleID] = entry
		s.order = append(s.order, vehicleID)
	} else if entry.indexed {
		s.index.Delete(point(entry.pos), point(entry.pos), vehicleID)
	}
	delete(s.outOfRange, vehicleID)

	entry.state = state
	entry.pos = pos
	entry.indexed = hasPos && geo.InRange(pos.Lat, pos.Lng)
	switch {
	case entry.indexed:
		s.index.Insert(point(pos), point(pos), vehicleID)
	case hasPos:
		s.outOfRange[vehicleID] = struct{}{}
	}

	return state, nil
}

// List returns every vehicle. The returned Fields maps are shared with the
// store and must not be modified.
func (s *MemoryStore) List() []models.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.VehicleState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].state)
	}
	return out
}

// Within returns every vehicle positioned inside box, plus every vehicle
// whose position lies outside the WGS84 ranges. Callers filter by exact
// distance.
func (s *MemoryStore) Within(box geo.BoundingBox) []models.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*storedVehicle
	s.index.Search(
		[2]float64{box.MinLon, box.MinLat},
		[2]float64{box.MaxLon, box.MaxLat},
		func(_, _ [2]float64, id string) bool {
			hits = append(hits, s.entries[id])
			return true
		},
	)
	for id := range s.outOfRange {
		hits = append(hits, s.entries[id])
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].seq < hits[j].seq
	})

	out := make([]models.VehicleState, len(hits))
	for i, h := range hits {
		out[i] = h.state
	}
	return out
}

// Len returns the number of vehicles seen since start.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// point maps a position onto the index plane, longitude first.
func point(p models.Position) [2]float64 {
	return [2]float64{p.Lng, p.Lat}
}
