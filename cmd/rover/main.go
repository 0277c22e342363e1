// rover: control service for the ESP32 rover.
// Exposes a REST API and live update sockets, and drives the device over
// HTTP, WebSocket or MQTT as each command requests.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/channel"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/platform"
	"github.com/teslashibe/go-rover/pkg/switchboard"
	"github.com/teslashibe/go-rover/pkg/web"
)

var version = "0.1.0"

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	port := pflag.StringP("port", "p", "", "API port (overrides config)")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error (overrides config)")
	deviceIP := pflag.String("device-ip", "", "device address; rewrites the HTTP and WebSocket URLs")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("rover", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *deviceIP != "" {
		cfg.Device.HTTPURL = "http://" + *deviceIP
		cfg.Device.WebSocketURL = "ws://" + *deviceIP + ":" + config.DefaultWebSocketPort
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg); err != nil {
		log.Error("rover exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := log.L()
	log.Info("starting rover", "version", version,
		"http", cfg.Device.HTTPURL, "websocket", cfg.Device.WebSocketURL, "broker", cfg.MQTT.Broker)

	httpCh := channel.NewHTTPChannel(channel.HTTPConfig{
		BaseURL: cfg.Device.HTTPURL,
		Timeout: cfg.Device.HTTPTimeout,
	}, logger)
	wsCh := channel.NewWebSocketChannel(channel.WebSocketConfig{
		URL:            cfg.Device.WebSocketURL,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		RequestTimeout: cfg.Device.RequestTimeout,
	}, logger)
	mqttCh := channel.NewMQTTChannel(channel.MQTTConfig{
		Broker:         cfg.MQTT.Broker,
		ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
		CommandTopic:   cfg.MQTT.CommandTopic,
		ResponseTopic:  cfg.MQTT.ResponseTopic,
		QoS:            cfg.MQTT.QoS,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		RequestTimeout: cfg.Device.RequestTimeout,
		AutoReconnect:  cfg.MQTT.AutoReconnect,
	}, logger)

	board, err := switchboard.New(logger, httpCh, wsCh, mqttCh)
	if err != nil {
		return err
	}

	odo := odometry.DefaultConfig()
	odo.WheelRadius = cfg.Odometry.WheelRadius
	odo.MaxRPM = cfg.Odometry.MaxRPM
	odo.Wheelbase = cfg.Odometry.Wheelbase
	tracker := odometry.New(odo, logger)

	server := web.NewServer(web.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		MoveRate:    cfg.Server.MoveRate,
		MoveBurst:   cfg.Server.MoveBurst,
	}, logger)
	service := platform.New(board, tracker, server, logger)
	server.SetPlatform(service)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case serveErr = <-errc:
		log.Error("api server stopped", "error", serveErr)
	}

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := service.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := server.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown api: %w", err))
	}
	log.Info("goodbye")
	return errors.Join(errs...)
}
