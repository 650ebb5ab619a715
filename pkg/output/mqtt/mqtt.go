package mqtt

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
	"github.com/sirupsen/logrus"
)

const (
	disconnectQuiesceMs = 250
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
)

// entity describes one Home Assistant sensor derived from a reading.
type entity struct {
	key         string
	name        string
	unit        string
	deviceClass string
}

var entities = []entity{
	{key: "hcho_ppb", name: "Formaldehyde", unit: "ppb", deviceClass: "volatile_organic_compounds_parts"},
	{key: "humidity_rh", name: "Humidity", unit: "%", deviceClass: "humidity"},
	{key: "temperature_c", name: "Temperature", unit: "°C", deviceClass: "temperature"},
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOutput struct {
	client     publisher
	stateTopic string
}

func NewMQTT(cfg config.MQTTConfig, sensorID string) (output.Output, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return newMQTTOutput(client, cfg, sensorID), nil
}

// newMQTTOutput wraps a connected client. Discovery configs, when enabled,
// are published before the output is handed back so they always precede
// the first state message.
func newMQTTOutput(client publisher, cfg config.MQTTConfig, sensorID string) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.Topic}

	if cfg.DiscoveryPrefix != "" {
		uid := discoveryUniqueID(cfg, sensorID)
		for _, e := range entities {
			topic := discoveryTopic(cfg.DiscoveryPrefix, uid, e)
			payload := discoveryPayload(e, cfg.Topic, uid)
			if err := publishJSON(client, topic, true, payload); err != nil {
				logrus.Errorf("mqtt discovery publish error: %v", err)
			}
		}
	}
	return m
}

func (m *MQTTOutput) Publish(r sensor.Reading) error {
	b, err := statePayload(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.stateTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func statePayload(r sensor.Reading) ([]byte, error) {
	return json.Marshal(r)
}

// helper: unique id shared by all entities of this sensor
func discoveryUniqueID(cfg config.MQTTConfig, sensorID string) string {
	if sensorID != "" {
		return "sfa3x_" + sensorID
	}
	return cfg.ClientID
}

func discoveryTopic(prefix, uid string, e entity) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", prefix, uid, e.key)
}

// helper: discovery payload for one entity reading from the shared state topic
func discoveryPayload(e entity, stateTopic, uid string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                e.name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   e.unit,
		keyDeviceClass:         e.deviceClass,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", e.key),
		keyJSONAttributesTopic: stateTopic,
	}
	if uid != "" {
		payload[keyUniqueID] = uid + "_" + e.key
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client publisher, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
