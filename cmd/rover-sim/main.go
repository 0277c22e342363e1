// rover-sim: simulated ESP32 motor controller for running the rover service
// without hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/devicesim"
)

func main() {
	addr := pflag.StringP("addr", "a", ":8081", "listen address for HTTP and WebSocket")
	logLevel := pflag.String("log-level", "info", "debug, info, warn or error")
	broker := pflag.String("mqtt-broker", "", "answer MQTT commands through this broker (disabled when empty)")
	commandTopic := pflag.String("command-topic", "esp32/command", "MQTT topic carrying commands")
	responseTopic := pflag.String("response-topic", "esp32/response", "MQTT topic for replies")
	omitIDs := pflag.Bool("omit-ids", false, "leave correlation ids out of replies, like old firmware")
	silent := pflag.Bool("silent", false, "never answer WebSocket or MQTT commands")
	failMoves := pflag.Bool("fail-moves", false, "reject every move with a motor fault")
	latency := pflag.Duration("latency", 0, "delay before each reply")
	pflag.Parse()

	log.Init(*logLevel, "text")
	logger := log.Component("rover-sim")

	device := devicesim.New(devicesim.Options{
		OmitIDs:   *omitIDs,
		Silent:    *silent,
		FailMoves: *failMoves,
		Latency:   *latency,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *broker != "" {
		cfg := devicesim.MQTTConfig{
			Broker:        *broker,
			ClientID:      "rover-sim-" + uuid.NewString(),
			CommandTopic:  *commandTopic,
			ResponseTopic: *responseTopic,
			QoS:           config.DefaultConfig().MQTT.QoS,
		}
		go func() {
			if err := device.ServeMQTT(ctx, devicesim.NewMQTTClient(cfg), cfg); err != nil {
				logger.Error("mqtt responder stopped", "error", err)
			}
		}()
	}

	app := device.App()
	go func() {
		logger.Info("simulator listening", "addr", *addr)
		if err := app.Listen(*addr); err != nil {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
		os.Exit(1)
	}
}
