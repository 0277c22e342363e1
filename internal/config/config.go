// Package config loads go-rover configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, a .env file in the working directory, and ROVER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default device endpoints, matching the stock ESP32 firmware.
const (
	DefaultDeviceIP      = "192.168.0.70"
	DefaultWebSocketPort = "81"
	DefaultMQTTBroker    = "tcp://broker.mqtt.cool:1883"
)

// Config is the root configuration for the rover broker.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Server   ServerConfig   `yaml:"server"`
	Odometry OdometryConfig `yaml:"odometry"`
	Log      LogConfig      `yaml:"log"`
}

// DeviceConfig holds the direct device endpoints.
type DeviceConfig struct {
	// HTTPURL is the base URL of the device HTTP API.
	HTTPURL string `yaml:"http_url"`

	// WebSocketURL is the device WebSocket endpoint.
	WebSocketURL string `yaml:"websocket_url"`

	// ConnectTimeout bounds WebSocket/MQTT session establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds the wait for a correlated reply.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// HTTPTimeout bounds a single HTTP exchange with the device.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	CommandTopic   string        `yaml:"command_topic"`
	ResponseTopic  string        `yaml:"response_topic"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
}

// ServerConfig holds the REST/WebSocket surface settings.
type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	// MoveRate is the sustained move commands per second accepted by the API.
	MoveRate  float64 `yaml:"move_rate"`
	MoveBurst int     `yaml:"move_burst"`
}

// OdometryConfig holds the dead-reckoning model parameters.
type OdometryConfig struct {
	WheelRadius float64 `yaml:"wheel_radius"`
	MaxRPM      float64 `yaml:"max_rpm"`
	Wheelbase   float64 `yaml:"wheelbase"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with the stock firmware defaults.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			HTTPURL:        "http://" + DefaultDeviceIP,
			WebSocketURL:   "ws://" + DefaultDeviceIP + ":" + DefaultWebSocketPort,
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 5 * time.Second,
			HTTPTimeout:    5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:         DefaultMQTTBroker,
			ClientIDPrefix: "rover-controller",
			CommandTopic:   "esp32/command",
			ResponseTopic:  "esp32/response",
			QoS:            1,
			KeepAlive:      20 * time.Second,
			AutoReconnect:  true,
		},
		Server: ServerConfig{
			Port:        "8080",
			CORSOrigins: []string{"*"},
			MoveRate:    20,
			MoveBurst:   10,
		},
		Odometry: OdometryConfig{
			WheelRadius: 0.03,
			MaxRPM:      200,
			Wheelbase:   0.2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), a .env file if present, and environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays ROVER_* variables. ROBOT_IP rewrites both device URLs.
func (c *Config) applyEnv() error {
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		c.Device.HTTPURL = "http://" + ip
		c.Device.WebSocketURL = "ws://" + ip + ":" + DefaultWebSocketPort
	}

	setString(&c.Device.HTTPURL, "ROVER_HTTP_URL")
	setString(&c.Device.WebSocketURL, "ROVER_WS_URL")
	setString(&c.MQTT.Broker, "ROVER_MQTT_BROKER")
	setString(&c.MQTT.CommandTopic, "ROVER_MQTT_COMMAND_TOPIC")
	setString(&c.MQTT.ResponseTopic, "ROVER_MQTT_RESPONSE_TOPIC")
	setString(&c.Server.Port, "ROVER_PORT")
	setString(&c.Log.Level, "ROVER_LOG_LEVEL")
	setString(&c.Log.Format, "ROVER_LOG_FORMAT")

	if v := os.Getenv("ROVER_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("ROVER_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROVER_REQUEST_TIMEOUT: %w", err)
		}
		c.Device.RequestTimeout = d
	}
	if v := os.Getenv("ROVER_WHEEL_RADIUS"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ROVER_WHEEL_RADIUS: %w", err)
		}
		c.Odometry.WheelRadius = r
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL(c.Device.HTTPURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("device.http_url: %w", err))
	}
	if err := checkURL(c.Device.WebSocketURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("device.websocket_url: %w", err))
	}
	if c.Device.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("device.connect_timeout must be positive"))
	}
	if c.Device.RequestTimeout <= 0 {
		errs = append(errs, errors.New("device.request_timeout must be positive"))
	}
	if c.Device.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("device.http_timeout must be positive"))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.CommandTopic == "" || c.MQTT.ResponseTopic == "" {
		errs = append(errs, errors.New("mqtt command and response topics are required"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Odometry.WheelRadius < 0.01 || c.Odometry.WheelRadius > 0.1 {
		errs = append(errs, fmt.Errorf("odometry.wheel_radius must be within [0.01, 0.1], got %g", c.Odometry.WheelRadius))
	}
	if c.Odometry.MaxRPM <= 0 {
		errs = append(errs, errors.New("odometry.max_rpm must be positive"))
	}
	if c.Odometry.Wheelbase <= 0 {
		errs = append(errs, errors.New("odometry.wheelbase must be positive"))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v, got %q", schemes, u.Scheme)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
