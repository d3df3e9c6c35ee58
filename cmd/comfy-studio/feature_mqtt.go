//go:build !no_mqtt

package main

import (
	"log/slog"

	"comfy-studio/internal/notify"
)

type mqttStopper struct {
	notifier *notify.Notifier
}

func (m *mqttStopper) Stop() {
	if m.notifier != nil {
		m.notifier.Stop()
	}
}

// Sink returns the batch event callback, or nil when MQTT is off.
func (m *mqttStopper) Sink() func(any) {
	if m.notifier == nil {
		return nil
	}
	return m.notifier.Notify
}

func initMQTT(cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	notifier, err := notify.NewNotifier(notify.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt notifier", "err", err)
		return &mqttStopper{}
	}
	return &mqttStopper{notifier: notifier}
}
