package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smarthome/internal/api"
	"smarthome/internal/clock"
	"smarthome/internal/config"
	"smarthome/internal/events"
	"smarthome/internal/gateway"
	"smarthome/internal/mqttmirror"
	"smarthome/internal/simulation"
	"smarthome/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	logger.Info("Starting Smart Home Server",
		zap.Int("port", cfg.Port),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.String("seed_file", cfg.SeedFile),
		zap.Bool("mqtt", cfg.MQTTBroker != ""))

	seed, err := config.LoadSeed(cfg.SeedFile, logger)
	if err != nil {
		logger.Fatal("Failed to load seed", zap.Error(err))
	}

	deviceStore, err := store.New(seed, logger)
	if err != nil {
		logger.Fatal("Failed to create device store", zap.Error(err))
	}

	hub := events.NewHub(logger, events.DefaultOptions())
	gw := gateway.New(deviceStore, hub, logger)
	hub.SetIntentHandler(gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simOpts := simulation.DefaultOptions()
	simOpts.Interval = cfg.TickInterval
	sim := simulation.New(deviceStore, hub, clock.NewRealClock(), logger, simOpts)
	if err := sim.Start(ctx); err != nil {
		logger.Fatal("Failed to start simulation", zap.Error(err))
	}

	var mirror *mqttmirror.Mirror
	var mqttClient *mqttmirror.Client
	if cfg.MQTTBroker != "" {
		topics := mqttmirror.Topics{Prefix: cfg.MQTTTopicPrefix}
		mqttClient, err = mqttmirror.Connect(mqttmirror.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topics:   topics,
		}, logger)
		if err != nil {
			// The mirror is optional; the house keeps running without it.
			logger.Error("MQTT mirror disabled", zap.Error(err))
		} else {
			mirror = mqttmirror.New(deviceStore, mqttClient, topics, logger)
			mirror.Start()
		}
	}

	server := api.NewServer(gw, hub, logger, cfg.Port)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Smart Home Server running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")

	sim.Stop()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	if mirror != nil {
		mirror.Stop()
	}
	if mqttClient != nil {
		_ = mqttClient.Close()
	}

	logger.Info("Shutdown complete")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Debug() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}
