// Package mqtt publishes committed attendance events to an MQTT broker so
// home automation and monitoring systems can react to presence changes.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"timekeeper-go/internal/config"
	"timekeeper-go/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client is the MQTT publisher for attendance events.
type Client struct {
	config config.MQTTConfig
	client mqtt.Client
}

// eventPayload is the JSON body published per attendance event.
type eventPayload struct {
	Name       string        `json:"name"`
	Status     models.Status `json:"status"`
	Confidence float64       `json:"confidence"`
	Date       string        `json:"date"`
	Time       string        `json:"time"`
}

// NewClient creates a new MQTT client for the given configuration.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start connects the client to the broker. A disabled configuration is a
// no-op, not an error.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Last will: mark the service offline if the connection drops hard.
	opts.SetWill(c.statusTopic(), "offline", 1, true)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	return nil
}

// Stop publishes the offline status and disconnects the client.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Publish(c.statusTopic(), 1, true, "offline").Wait()
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// PublishEvent publishes one committed attendance event to
// <prefix>/attendance/<name>. Publish failures are logged, never
// propagated: the ledger is the source of truth, MQTT is best effort.
func (c *Client) PublishEvent(ev *models.AttendanceEvent) {
	if !c.IsConnected() {
		return
	}

	payload, err := json.Marshal(eventPayload{
		Name:       ev.Name,
		Status:     ev.Status,
		Confidence: ev.Confidence,
		Date:       ev.Date,
		Time:       ev.Time,
	})
	if err != nil {
		log.Errorf("Failed to marshal attendance event for MQTT: %v", err)
		return
	}

	topic := c.eventTopic(ev.Name)
	token := c.client.Publish(topic, 1, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Errorf("Failed to publish attendance event to %s: %v", topic, token.Error())
		}
	}()
}

func (c *Client) statusTopic() string {
	return fmt.Sprintf("%s/status", c.config.TopicPrefix)
}

// eventTopic builds the per-identity topic. Identity names are free-form
// user input; the characters MQTT reserves for topic structure and wildcards
// must not leak into the hierarchy.
func (c *Client) eventTopic(name string) string {
	return fmt.Sprintf("%s/attendance/%s", c.config.TopicPrefix, sanitizeTopicSegment(name))
}

func sanitizeTopicSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	client.Publish(c.statusTopic(), 1, true, "online")
}

func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}
