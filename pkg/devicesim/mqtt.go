package devicesim

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the simulated firmware's broker session.
type MQTTConfig struct {
	Broker        string
	ClientID      string
	CommandTopic  string
	ResponseTopic string
	QoS           byte
}

// NewMQTTClient builds a paho client for cfg.
func NewMQTTClient(cfg MQTTConfig) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	return mqtt.NewClient(opts)
}

// ServeMQTT answers commands published on the command topic until ctx is
// done. client may already be connected.
func (d *Device) ServeMQTT(ctx context.Context, client mqtt.Client, cfg MQTTConfig) error {
	if !client.IsConnected() {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
		}
	}

	handler := func(c mqtt.Client, msg mqtt.Message) {
		reply := d.Handle(msg.Payload())
		if reply == nil {
			return
		}
		// Publish from a fresh goroutine; paho forbids waiting on a token
		// inside a message handler.
		go func() {
			token := c.Publish(cfg.ResponseTopic, cfg.QoS, false, reply)
			if token.Wait() && token.Error() != nil {
				d.logger.Warn("publish reply failed", "topic", cfg.ResponseTopic, "error", token.Error())
			}
		}()
	}

	if token := client.Subscribe(cfg.CommandTopic, cfg.QoS, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("subscribe %s: %w", cfg.CommandTopic, token.Error())
	}
	d.logger.Info("mqtt responder ready", "broker", cfg.Broker, "command_topic", cfg.CommandTopic, "response_topic", cfg.ResponseTopic)

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}
