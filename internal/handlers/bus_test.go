package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/geo"
	"github.com/ukydev/where-is-my-bus/internal/middleware"
	"github.com/ukydev/where-is-my-bus/internal/models"
	"github.com/ukydev/where-is-my-bus/internal/nearest"
	"google.golang.org/protobuf/proto"
)

// MockVehicleStore is a mock implementation of VehicleStore
type MockVehicleStore struct {
	mock.Mock
}

func (m *MockVehicleStore) Upsert(vehicleID string, fields map[string]any) (models.VehicleState, error) {
	args := m.Called(vehicleID, fields)
	return args.Get(0).(models.VehicleState), args.Error(1)
}

func (m *MockVehicleStore) List() []models.VehicleState {
	args := m.Called()
	return args.Get(0).([]models.VehicleState)
}

func (m *MockVehicleStore) Within(box geo.BoundingBox) []models.VehicleState {
	args := m.Called(box)
	return args.Get(0).([]models.VehicleState)
}

func (m *MockVehicleStore) Len() int {
	return m.Called().Int(0)
}

func newTestHandler(store db.VehicleStore) *BusHandler {
	return NewBusHandler(store, nearest.NewEngine(store, nearest.DefaultLimit, nearest.DefaultMaxLimit), 1<<20)
}

func postUpdate(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/updateBus", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestBusHandler_UpdateThenList(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)

	before := time.Now().UnixMilli()
	w := postUpdate(t, router, `{"bus_id":"B1","gps":{"lat":12.9716,"lng":77.5946},"passenger_count":20,"crowd_density":"medium"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK"}`, w.Body.String())

	w = get(router, "/api/buses")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var buses []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buses))
	require.Len(t, buses, 1)
	assert.Equal(t, "B1", buses[0]["bus_id"])
	assert.Equal(t, float64(20), buses[0]["passenger_count"])
	assert.Equal(t, "medium", buses[0]["crowd_density"])
	assert.GreaterOrEqual(t, int64(buses[0]["last_update"].(float64)), before)
}

func TestBusHandler_UpdateReplacesWholeRecord(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)

	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1","gps":{"lat":1,"lng":2},"crowd_density":"high"}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B2"}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1","passenger_count":3}`).Code)

	var buses []map[string]any
	require.NoError(t, json.Unmarshal(get(router, "/api/buses").Body.Bytes(), &buses))
	require.Len(t, buses, 2)
	assert.Equal(t, "B1", buses[0]["bus_id"])
	assert.Equal(t, "B2", buses[1]["bus_id"])
	assert.NotContains(t, buses[0], "gps")
	assert.NotContains(t, buses[0], "crowd_density")
	assert.Equal(t, float64(3), buses[0]["passenger_count"])
}

func TestBusHandler_NumericIDsNameOneVehicle(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)

	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":7,"passenger_count":1}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":7.0,"passenger_count":2}`).Code)

	all := store.List()
	require.Len(t, all, 1)
	assert.Equal(t, "7", all[0].VehicleID)
	assert.Equal(t, json.Number("2"), all[0].Fields["passenger_count"])
}

func TestBusHandler_UpdateRejected_StoreUntouched(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"missing bus_id", `{"gps":{"lat":1,"lng":2}}`, http.StatusBadRequest, "Missing bus_id"},
		{"empty bus_id", `{"bus_id":""}`, http.StatusBadRequest, "Missing bus_id"},
		{"null body", `null`, http.StatusBadRequest, "Missing bus_id"},
		{"invalid json", `{bad json`, http.StatusBadRequest, "Invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockVehicleStore)
			router := NewRouter(newTestHandler(store), "*", nil)

			w := postUpdate(t, router, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, decodeError(t, w))
			store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestBusHandler_UpdateBodyTooLarge(t *testing.T) {
	store := new(MockVehicleStore)
	h := NewBusHandler(store, nearest.NewEngine(store, 0, 0), 32)
	router := NewRouter(h, "*", nil)

	w := postUpdate(t, router, `{"bus_id":"B1","note":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestBusHandler_MethodNotAllowed(t *testing.T) {
	router := NewRouter(newTestHandler(db.NewMemoryStore()), "*", nil)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/updateBus"},
		{http.MethodPost, "/api/buses"},
		{http.MethodDelete, "/api/nearest?lat=1&lng=2"},
		{http.MethodPost, "/api/gtfs-rt/vehicle-positions"},
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", tc.method, tc.target)
	}
}

func TestBusHandler_Nearest(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)

	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1","gps":{"lat":12.9716,"lng":77.5946},"passenger_count":20,"crowd_density":"medium"}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B2","gps":{"lat":12.9352,"lng":77.6245}}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B3"}`).Code)

	w := get(router, "/api/nearest?lat=12.97&lng=77.59")
	require.Equal(t, http.StatusOK, w.Code)

	var results []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "B1", results[0]["bus_id"])
	assert.Equal(t, "B2", results[1]["bus_id"])
	assert.InDelta(t, 529, results[0]["distance_m"], 5)
	assert.Equal(t, float64(20), results[0]["passenger_count"])
	assert.Equal(t, "medium", results[0]["crowd_density"])
	assert.NotContains(t, results[1], "passenger_count")
	assert.Contains(t, results[0], "last_update")
	assert.Equal(t, map[string]any{"lat": 12.9716, "lng": 77.5946}, results[0]["gps"])

	w = get(router, "/api/nearest?lat=12.97&lng=77.59&limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "B1", results[0]["bus_id"])
}

func TestBusHandler_Nearest_EmptyStoreReturnsEmptyArray(t *testing.T) {
	router := NewRouter(newTestHandler(db.NewMemoryStore()), "*", nil)

	w := get(router, "/api/nearest?lat=0&lng=0")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestBusHandler_Nearest_ZeroLimit(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1","gps":{"lat":12,"lng":77}}`).Code)

	w := get(router, "/api/nearest?lat=12&lng=77&limit=0")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get(router, "/api/nearest?lat=12&lng=77&limit=abc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bus_id":"B1"`)
}

func TestBusHandler_Nearest_InvalidQuery(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		message string
	}{
		{"non numeric lat", "/api/nearest?lat=abc&lng=77.59", "Invalid lat/lng"},
		{"missing lng", "/api/nearest?lat=12.97", "Invalid lat/lng"},
		{"missing both", "/api/nearest", "Invalid lat/lng"},
		{"negative radius", "/api/nearest?lat=1&lng=1&radius=-5", "Invalid radius"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockVehicleStore)
			router := NewRouter(newTestHandler(store), "*", nil)

			w := get(router, tt.target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decodeError(t, w))
			store.AssertNotCalled(t, "List")
			store.AssertNotCalled(t, "Within", mock.Anything)
		})
	}
}

func TestBusHandler_Nearest_RadiusUsesSpatialIndex(t *testing.T) {
	store := new(MockVehicleStore)
	store.On("Within", mock.AnythingOfType("geo.BoundingBox")).Return([]models.VehicleState{
		{VehicleID: "B1", Fields: map[string]any{"bus_id": "B1", "gps": map[string]any{"lat": 0.0, "lng": 0.001}}},
		{VehicleID: "B2", Fields: map[string]any{"bus_id": "B2", "gps": map[string]any{"lat": 0.0, "lng": 0.01}}},
	})
	router := NewRouter(newTestHandler(store), "*", nil)

	w := get(router, "/api/nearest?lat=0&lng=0&radius=500")
	require.Equal(t, http.StatusOK, w.Code)

	var results []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "B1", results[0]["bus_id"])
	store.AssertNotCalled(t, "List")
	store.AssertExpectations(t)
}

func TestBusHandler_VehiclePositions(t *testing.T) {
	store := db.NewMemoryStore()
	h := newTestHandler(store)
	h.now = func() time.Time { return time.Unix(1700000000, 0) }
	router := NewRouter(h, "*", nil)

	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1","gps":{"lat":12.5,"lng":77.5},"crowd_density":"high"}`).Code)
	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B2"}`).Code)

	w := get(router, "/api/gtfs-rt/vehicle-positions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-protobuf", w.Header().Get("Content-Type"))

	var feed gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(w.Body.Bytes(), &feed))
	assert.Equal(t, uint64(1700000000), feed.GetHeader().GetTimestamp())
	require.Len(t, feed.GetEntity(), 1)
	assert.Equal(t, "B1", feed.GetEntity()[0].GetId())
	assert.InDelta(t, 12.5, feed.GetEntity()[0].GetVehicle().GetPosition().GetLatitude(), 1e-4)
}

func TestBusHandler_RootAndHealth(t *testing.T) {
	store := db.NewMemoryStore()
	router := NewRouter(newTestHandler(store), "*", nil)

	w := get(router, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Banner, w.Body.String())

	require.Equal(t, http.StatusOK, postUpdate(t, router, `{"bus_id":"B1"}`).Code)
	w = get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","vehicles":1}`, w.Body.String())

	w = get(router, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRouter_Middleware(t *testing.T) {
	store := db.NewMemoryStore()
	limiter := middleware.NewRateLimiter(1, time.Minute)
	router := NewRouter(newTestHandler(store), "https://example.org", limiter)

	w := postUpdate(t, router, `{"bus_id":"B1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = postUpdate(t, router, `{"bus_id":"B1"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not throttled
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/api/buses").Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/updateBus", bytes.NewReader(nil))
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
