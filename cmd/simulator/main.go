package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/where-is-my-bus/internal/geo"
)

// Location is a point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BusUpdate is the record an onboard tracker submits.
type BusUpdate struct {
	BusID          string   `json:"bus_id"`
	GPS            Location `json:"gps"`
	PassengerCount int      `json:"passenger_count"`
	CrowdDensity   string   `json:"crowd_density"`
	Speed          float64  `json:"speed"`
}

// Bengaluru city centre
var defaultCenter = Location{Lat: 12.9716, Lng: 77.5946}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rand.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

// offset moves base by the given metres north and east.
func offset(base Location, north, east float64) Location {
	return Location{
		Lat: base.Lat + north/111320.0,
		Lng: base.Lng + east/(111320.0*math.Cos(base.Lat*math.Pi/180)),
	}
}

// --- Routing & movement ---

type BusRoute struct {
	Points    []Location
	SegIndex  int
	SegOffset float64 // meters along current segment
}

type BusState struct {
	BusID      string
	Position   Location
	SpeedKmh   float64
	Passengers int
	Capacity   int
	Route      *BusRoute
}

func distanceMeters(a, b Location) float64 {
	return geo.Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

func lerp(a, b Location, t float64) Location {
	return Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// buildLoopRoute places stops on a jittered circle around center. The last
// point closes the loop back to the first.
func buildLoopRoute(center Location, radiusMeters float64, stops int) []Location {
	if stops < 3 {
		stops = 3
	}
	phase := rand.Float64() * 2 * math.Pi
	pts := make([]Location, 0, stops+1)
	for i := 0; i < stops; i++ {
		angle := phase + 2*math.Pi*float64(i)/float64(stops)
		r := radiusMeters * (0.8 + 0.4*rand.Float64())
		pts = append(pts, offset(center, r*math.Sin(angle), r*math.Cos(angle)))
	}
	return append(pts, pts[0])
}

func stepAlongRoute(s *BusState, tickSec float64) {
	if s.Route == nil || len(s.Route.Points) < 2 {
		return
	}
	rem := s.SpeedKmh * 1000 * (tickSec / 3600.0)
	// bounded so a degenerate route of identical points cannot spin
	for hops := 0; rem > 0 && hops < 4*len(s.Route.Points); hops++ {
		if s.Route.SegIndex >= len(s.Route.Points)-1 {
			// loop back to the first stop
			s.Route.SegIndex = 0
			s.Route.SegOffset = 0
		}
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		segLen := distanceMeters(a, b)
		leftOnSeg := segLen - s.Route.SegOffset
		if rem >= leftOnSeg {
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			rem -= leftOnSeg
			// board and alight at each stop
			s.Passengers = boardAndAlight(s.Passengers, s.Capacity)
			continue
		}
		t := (s.Route.SegOffset + rem) / segLen
		s.Position = lerp(a, b, math.Max(0, math.Min(1, t)))
		s.Route.SegOffset += rem
		rem = 0
	}
}

func boardAndAlight(passengers, capacity int) int {
	alight := rand.Intn(passengers/3 + 1)
	board := rand.Intn(capacity/4 + 1)
	n := passengers - alight + board
	if n < 0 {
		return 0
	}
	if n > capacity {
		return capacity
	}
	return n
}

// crowdDensity buckets occupancy the way the onboard counters report it.
func crowdDensity(passengers, capacity int) string {
	if capacity <= 0 {
		return "low"
	}
	ratio := float64(passengers) / float64(capacity)
	switch {
	case ratio < 0.4:
		return "low"
	case ratio < 0.75:
		return "medium"
	default:
		return "high"
	}
}

func updateFromState(s *BusState) BusUpdate {
	return BusUpdate{
		BusID:          s.BusID,
		GPS:            s.Position,
		PassengerCount: s.Passengers,
		CrowdDensity:   crowdDensity(s.Passengers, s.Capacity),
		Speed:          math.Round(s.SpeedKmh*10) / 10,
	}
}

// --- Publishing ---

// Publisher delivers bus updates to the backend.
type Publisher interface {
	Publish(u BusUpdate) error
}

type httpPublisher struct {
	url    string
	client *http.Client
}

func newHTTPPublisher(apiURL string) *httpPublisher {
	return &httpPublisher{
		url:    apiURL + "/updateBus",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpPublisher) Publish(u BusUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	resp, err := p.client.Post(p.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to send update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update rejected with status: %d", resp.StatusCode)
	}
	return nil
}

type mqttPublisher struct {
	client mqtt.Client
}

func newMQTTPublisher(broker string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("bus-simulator-%d", rand.Int())).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %v", broker, token.Error())
	}
	return &mqttPublisher{client: client}, nil
}

func mqttTopic(busID string) string {
	return "buses/" + busID + "/state"
}

func (p *mqttPublisher) Publish(u BusUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	token := p.client.Publish(mqttTopic(u.BusID), 1, false, data)
	token.Wait()
	return token.Error()
}

func simulateBus(ctx context.Context, pub Publisher, s *BusState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		// small speed noise
		s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
		s.SpeedKmh = math.Max(10, math.Min(50, s.SpeedKmh))

		stepAlongRoute(s, interval.Seconds())

		u := updateFromState(s)
		if err := pub.Publish(u); err != nil {
			log.WithError(err).WithField("bus_id", u.BusID).Error("Failed to publish update")
			continue
		}
		log.WithFields(log.Fields{
			"bus_id":          u.BusID,
			"passenger_count": u.PassengerCount,
			"crowd_density":   u.CrowdDensity,
		}).Debug("Sent update")
	}
}

// --- Settings ---

type settings struct {
	FleetSize  int
	APIURL     string
	Interval   time.Duration
	Center     Location
	MQTTBroker string
}

func loadSettings() settings {
	s := settings{
		FleetSize: 10,
		APIURL:    "http://localhost:3000/api",
		Interval:  2 * time.Second,
		Center:    defaultCenter,
	}
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			s.FleetSize = n
		}
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		s.APIURL = v
	}
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.Interval = time.Duration(n) * time.Second
		}
	}
	if v, err := strconv.ParseFloat(os.Getenv("SIM_CENTER_LAT"), 64); err == nil && v >= -90 && v <= 90 {
		s.Center.Lat = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("SIM_CENTER_LNG"), 64); err == nil && v >= -180 && v <= 180 {
		s.Center.Lng = v
	}
	s.MQTTBroker = os.Getenv("SIM_MQTT_BROKER")
	return s
}

func newFleet(size int, center Location) []*BusState {
	fleet := make([]*BusState, 0, size)
	for i := 0; i < size; i++ {
		route := buildLoopRoute(jitterLocation(center, 3000), 1500+rand.Float64()*2500, 6+rand.Intn(6))
		capacity := 40 + 10*rand.Intn(3)
		fleet = append(fleet, &BusState{
			BusID:      fmt.Sprintf("BUS-%03d", i+1),
			Position:   route[0],
			SpeedKmh:   20 + rand.Float64()*20,
			Passengers: rand.Intn(capacity + 1),
			Capacity:   capacity,
			Route:      &BusRoute{Points: route},
		})
	}
	return fleet
}

func main() {
	cfg := loadSettings()

	var pub Publisher = newHTTPPublisher(cfg.APIURL)
	target := cfg.APIURL
	if cfg.MQTTBroker != "" {
		mp, err := newMQTTPublisher(cfg.MQTTBroker)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer mp.client.Disconnect(250)
		pub = mp
		target = cfg.MQTTBroker
	}

	log.WithFields(log.Fields{
		"fleet_size": cfg.FleetSize,
		"target":     target,
		"interval":   cfg.Interval,
	}).Info("Starting bus simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, s := range newFleet(cfg.FleetSize, cfg.Center) {
		wg.Add(1)
		go func(s *BusState) {
			defer wg.Done()
			simulateBus(ctx, pub, s, cfg.Interval)
		}(s)
	}

	log.Info("Bus simulation started")
	wg.Wait()
	log.Info("Bus simulation stopped")
}
