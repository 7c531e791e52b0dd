package db

import (
	"github.com/ukydev/where-is-my-bus/internal/geo"
	"github.com/ukydev/where-is-my-bus/internal/models"
)

// VehicleStore defines the operations on the latest state of every vehicle.
type VehicleStore interface {
	// Upsert replaces the state stored for vehicleID with fields and stamps
	// last_update. An empty vehicleID is rejected with a ClientInputError.
	Upsert(vehicleID string, fields map[string]any) (models.VehicleState, error)
	// List returns every stored vehicle in first-insertion order.
	List() []models.VehicleState
	// Within returns the vehicles whose position lies inside box, in
	// first-insertion order.
	Within(box geo.BoundingBox) []models.VehicleState
	// Len returns the number of stored vehicles.
	Len() int
}
