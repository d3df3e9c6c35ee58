//go:build no_mqtt

package main

import "log/slog"

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func (m *mqttStopper) Sink() func(any) { return nil }

func initMQTT(_ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
