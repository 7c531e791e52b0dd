package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/where-is-my-bus/internal/config"
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/models"
)

const mqttConnectTimeout = 10 * time.Second

// Subscriber consumes tracker state published over MQTT. Payloads carry the
// same JSON record a tracker would POST to /api/updateBus.
type Subscriber struct {
	client mqtt.Client
	store  db.VehicleStore
	topic  string
	qos    byte
}

// NewSubscriber builds a subscriber for the configured broker. It does not
// connect until Start is called.
func NewSubscriber(cfg config.MQTTConfig, store db.VehicleStore) *Subscriber {
	s := &Subscriber{
		store: store,
		topic: cfg.Topic,
		qos:   cfg.QoS,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. Subscriptions are (re)established on every
// successful connection.
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttConnectTimeout):
		log.Warn("MQTT broker not reachable yet, retrying in background")
	}
	return nil
}

// Stop disconnects, waiting briefly for in-flight work.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.topic, s.qos, s.HandleMessage)
	if token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).WithField("topic", s.topic).Error("MQTT subscribe failed")
		return
	}
	log.WithField("topic", s.topic).Info("Subscribed to tracker updates")
}

// HandleMessage applies one tracker message to the store. Invalid messages
// are logged and dropped.
func (s *Subscriber) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	entry := log.WithField("topic", msg.Topic())

	fields, err := models.DecodeFields(msg.Payload())
	if err != nil {
		entry.WithError(err).Warn("Dropped MQTT update")
		return
	}
	state, err := Submit(s.store, fields)
	if err != nil {
		entry.WithError(err).Warn("Dropped MQTT update")
		return
	}
	entry.WithField("bus_id", state.VehicleID).Debug("Updated")
}
