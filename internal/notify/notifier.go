//go:build !no_mqtt

package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"comfy-studio/internal/batch"
)

// Config holds MQTT notifier configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Notifier publishes batch lifecycle events to an MQTT broker so external
// dashboards and automations can follow generation runs.
type Notifier struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
}

// NewNotifier creates and connects an MQTT notifier.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	n := &Notifier{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "notify"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("comfy-studio").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/studio/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			n.logger.Info("MQTT connected")
			n.publish(n.prefix+"/studio/state", []byte("online"), true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			n.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	n.client = client
	return n, nil
}

// Notify routes a batch event to its topic. Unknown event shapes are
// dropped silently so the notifier stays safe as an emit callback.
func (n *Notifier) Notify(event any) {
	topic := topicFor(n.prefix, event)
	if topic == "" {
		return
	}
	n.publish(topic, mustJSON(event), false)
}

func topicFor(prefix string, event any) string {
	switch event.(type) {
	case batch.Progress:
		return prefix + "/batch/progress"
	case batch.ItemResult:
		return prefix + "/batch/result"
	case batch.Complete:
		return prefix + "/batch/complete"
	default:
		return ""
	}
}

// Stop publishes offline state and disconnects.
func (n *Notifier) Stop() {
	n.publish(n.prefix+"/studio/state", []byte("offline"), true)
	n.client.Disconnect(1000)
	n.logger.Info("MQTT notifier stopped")
}

func (n *Notifier) publish(topic string, payload []byte, retained bool) {
	token := n.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			n.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			n.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
