package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://broker.mqtt.cool:1883".
	Broker string

	// ClientIDPrefix is combined with a random suffix for every session.
	ClientIDPrefix string

	// CommandTopic carries commands to the device.
	CommandTopic string

	// ResponseTopic carries device replies back.
	ResponseTopic string

	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
}

func (c *MQTTConfig) applyDefaults() {
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "rover-controller"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 20 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// ClientFactory builds a paho client from options. Tests substitute a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MQTTOption customizes an MQTTChannel.
type MQTTOption func(*MQTTChannel)

// WithClientFactory overrides how paho clients are created.
func WithClientFactory(f ClientFactory) MQTTOption {
	return func(m *MQTTChannel) {
		m.newClient = f
	}
}

// MQTTChannel publishes commands to a device topic and correlates replies
// arriving on a response topic.
type MQTTChannel struct {
	cfg       MQTTConfig
	logger    *slog.Logger
	corr      *correlator
	newClient ClientFactory

	mu                sync.RWMutex
	client            mqtt.Client
	clientID          string
	connected         bool
	awaitingReconnect bool

	// closed is set by Disconnect and cleared by Connect. A closed channel
	// never reconnects lazily.
	closed bool
}

// NewMQTTChannel creates an MQTT transport.
func NewMQTTChannel(cfg MQTTConfig, logger *slog.Logger, opts ...MQTTOption) *MQTTChannel {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	logger = logger.With("transport", protocol.MQTT)

	m := &MQTTChannel{
		cfg:       cfg,
		logger:    logger,
		corr:      newCorrelator(string(protocol.MQTT), logger),
		newClient: mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Protocol returns protocol.MQTT.
func (m *MQTTChannel) Protocol() protocol.Protocol {
	return protocol.MQTT
}

// Connect opens a clean session with a fresh client id and subscribes to
// the response topic.
func (m *MQTTChannel) Connect(ctx context.Context) error {
	return m.connect(ctx, false)
}

func (m *MQTTChannel) connect(ctx context.Context, lazy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected && m.client != nil && m.client.IsConnected() {
		return nil
	}
	if lazy && m.closed {
		return ErrNotConnected
	}
	if m.client != nil {
		m.client.Disconnect(0)
		m.client = nil
	}

	clientID := m.cfg.ClientIDPrefix + "-" + uuid.NewString()

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(m.cfg.AutoReconnect).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetKeepAlive(m.cfg.KeepAlive).
		SetOrderMatters(false).
		SetConnectionLostHandler(m.onConnectionLost).
		SetOnConnectHandler(m.onConnect)

	m.logger.Info("connecting to broker", "broker", m.cfg.Broker, "client_id", clientID)

	client := m.newClient(opts)
	if err := waitToken(ctx, client.Connect(), m.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		m.connected = false
		return &ConnectionError{Protocol: protocol.MQTT, Target: m.cfg.Broker, Err: err}
	}

	if err := m.subscribe(ctx, client); err != nil {
		client.Disconnect(0)
		m.connected = false
		return &ConnectionError{Protocol: protocol.MQTT, Target: m.cfg.Broker, Err: err}
	}

	m.client = client
	m.clientID = clientID
	m.connected = true
	m.awaitingReconnect = false
	m.closed = false
	m.corr.start()

	m.logger.Info("connected to broker", "broker", m.cfg.Broker, "response_topic", m.cfg.ResponseTopic)
	return nil
}

// Disconnect ends the session and fails all pending requests. Commands sent
// afterwards fail with ErrNotConnected until Connect is called again. Safe to
// call repeatedly.
func (m *MQTTChannel) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client := m.client
	m.client = nil
	m.connected = false
	m.awaitingReconnect = false
	m.closed = true

	if client != nil {
		client.Disconnect(250)
		m.logger.Info("disconnected from broker")
	}

	m.corr.failAll(ErrDisconnected)
	m.corr.halt()
	return nil
}

// IsConnected reports whether the client session is up and usable.
func (m *MQTTChannel) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.client != nil && m.client.IsConnected()
}

// ClientID returns the id of the current session, or "" when disconnected.
func (m *MQTTChannel) ClientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return ""
	}
	return m.clientID
}

// SendMove publishes a move command and waits for the reply.
func (m *MQTTChannel) SendMove(cmd protocol.MoveCommand) *protocol.DeviceReply {
	return sendCommand(m, protocol.NewMoveMessage(cmd))
}

// SendStop publishes a stop command and waits for the reply.
func (m *MQTTChannel) SendStop() *protocol.DeviceReply {
	return sendCommand(m, protocol.NewCommandMessage(protocol.CommandStop))
}

// GetStatus queries device status.
func (m *MQTTChannel) GetStatus() *protocol.StatusReply {
	return queryStatus(m)
}

// GetInfo queries device info.
func (m *MQTTChannel) GetInfo() *protocol.InfoReply {
	return queryInfo(m)
}

// PendingCount returns the number of requests awaiting a reply.
func (m *MQTTChannel) PendingCount() int {
	return m.corr.pendingCount()
}

func (m *MQTTChannel) subscribe(ctx context.Context, client mqtt.Client) error {
	token := client.Subscribe(m.cfg.ResponseTopic, m.cfg.QoS, m.onMessage)
	if err := waitToken(ctx, token, m.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.ResponseTopic, err)
	}
	return nil
}

func (m *MQTTChannel) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.logger.Debug("message received", "topic", msg.Topic(), "bytes", len(msg.Payload()))
	m.corr.deliver(msg.Payload())
}

func (m *MQTTChannel) onConnectionLost(client mqtt.Client, err error) {
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.awaitingReconnect = m.cfg.AutoReconnect
	m.mu.Unlock()

	m.logger.Warn("connection to broker lost", "error", err, "auto_reconnect", m.cfg.AutoReconnect)
	m.corr.failAll(fmt.Errorf("%w: %v", ErrDisconnected, err))
}

// onConnect restores the subscription after paho reconnects on its own.
// A clean session drops subscriptions, so they must be re-issued.
func (m *MQTTChannel) onConnect(client mqtt.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != client || !m.awaitingReconnect {
		return
	}
	if err := m.subscribe(context.Background(), client); err != nil {
		m.logger.Warn("resubscribe after reconnect failed", "error", err)
		return
	}
	m.connected = true
	m.awaitingReconnect = false
	m.logger.Info("reconnected to broker")
}

// ensureConnected reconnects after a lost session, but not after Disconnect.
func (m *MQTTChannel) ensureConnected() error {
	if m.IsConnected() {
		return nil
	}
	return m.connect(context.Background(), true)
}

func (m *MQTTChannel) publish(data []byte) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(m.cfg.CommandTopic, m.cfg.QoS, false, data)
	if err := waitToken(context.Background(), token, m.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", m.cfg.CommandTopic, err)
	}
	m.logger.Debug("command published", "topic", m.cfg.CommandTopic, "bytes", len(data))
	return nil
}

func (m *MQTTChannel) correlator() *correlator       { return m.corr }
func (m *MQTTChannel) requestTimeout() time.Duration { return m.cfg.RequestTimeout }
func (m *MQTTChannel) transportName() string         { return "MQTT" }
func (m *MQTTChannel) log() *slog.Logger             { return m.logger }

// waitToken waits for a paho token, a timeout, or context cancellation.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
