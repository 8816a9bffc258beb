// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Publisher sends a JSON-encoded value to a topic.
type Publisher interface {
	Publish(topic string, v any) error
}

// Connect opens an MQTT connection with automatic reconnect.
func Connect(broker, clientID string, log *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("connected to MQTT", zap.String("broker", broker), zap.String("client_id", clientID))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}

// MQTTPublisher publishes JSON messages at QoS 0.
type MQTTPublisher struct {
	client   mqtt.Client
	retained bool
}

// NewMQTTPublisher wraps a connected client. Retained publishers are for
// last-value state such as the fused pose; commands and sensor streams must
// not be retained or a late subscriber replays them as fresh.
func NewMQTTPublisher(client mqtt.Client, retained bool) *MQTTPublisher {
	return &MQTTPublisher{client: client, retained: retained}
}

func (p *MQTTPublisher) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal error (%s): %w", topic, err)
	}
	token := p.client.Publish(topic, 0, p.retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish timeout (%s)", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, err)
	}
	return nil
}

// SubscribeJSON decodes every message on topic into T and hands it to fn.
// Undecodable payloads are logged and dropped.
func SubscribeJSON[T any](client mqtt.Client, topic string, log *zap.Logger, fn func(T)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Warn("invalid message", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		fn(v)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT subscribe error (%s): %w", topic, token.Error())
	}
	log.Info("subscribed", zap.String("topic", topic))
	return nil
}
