// Package ingest feeds vehicle updates into the store from every transport:
// HTTP posts, MQTT messages and upstream GTFS-Realtime feeds.
package ingest

import (
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/models"
)

// Submit validates an update record and, when it names a vehicle, replaces
// that vehicle's stored state. A rejected update leaves the store untouched.
func Submit(store db.VehicleStore, fields map[string]any) (models.VehicleState, error) {
	id, err := models.VehicleIDFrom(fields)
	if err != nil {
		return models.VehicleState{}, err
	}
	return store.Upsert(id, fields)
}
