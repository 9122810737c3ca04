package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/itohio/goecho/pkg/config"
	"github.com/itohio/goecho/pkg/host"
	"github.com/itohio/goecho/pkg/output"
)

const (
	DefaultServer   = "tcp://localhost:1883"
	DefaultClientID = "goecho"
	DefaultTopic    = "goecho/channel"

	disconnectQuiesceMs = 250
)

type MQTTOutput struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to the broker of cfg.
func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID(clientID)
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

	return newOutput(client, cfg.Topic), nil
}

func newOutput(client mqtt.Client, topic string) *MQTTOutput {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTOutput{client: client, topic: topic}
}

// Topic returns the state topic of channel id. A topic containing %d is used
// as a format, otherwise the id is appended as a path element.
func (m *MQTTOutput) Topic(id int) string {
	if strings.Contains(m.topic, "%d") {
		return fmt.Sprintf(m.topic, id)
	}
	return fmt.Sprintf("%s/%d", strings.TrimSuffix(m.topic, "/"), id)
}

func (m *MQTTOutput) Publish(meas host.Measurement) error {
	for _, r := range output.Records(meas) {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		token := m.client.Publish(m.Topic(r.Channel), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("mqtt publish channel %d: %w", r.Channel, token.Error())
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}
