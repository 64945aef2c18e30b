package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sube3494/bilidownloader/internal/bot/service"
	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/logger"
	"github.com/Sube3494/bilidownloader/internal/common/messaging"
	"github.com/Sube3494/bilidownloader/internal/common/store"
	"github.com/Sube3494/bilidownloader/internal/settings"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")

	// Load the configuration
	bootCfg, err := config.Load(configPath, nil)
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(bootCfg)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply stored overrides
	overrides, err := store.New(&bootCfg.Store, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "bot_main",
			"backend":   bootCfg.Store.Backend,
			"error":     err,
		}).Fatal("Failed to open override store")
	}
	manager, err := settings.NewManager(ctx, configPath, overrides, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "bot_main",
			"error":     err,
		}).Fatal("Failed to load settings")
	}
	cfg := manager.Config()

	// Get the configuration
	rabbitCfg := cfg.GetRabbitMQConfig()
	dlCfg := cfg.GetDownloaderConfig()

	log.WithFields(logrus.Fields{
		"component":  "bot_main",
		"bot":        fmt.Sprintf("%+v", cfg.Bot),
		"executable": dlCfg.ExecutablePath,
		"output":     dlCfg.DownloadPath,
	}).Debug("Bot configuration loaded")

	// Initialize RabbitMQ connection
	messageClient, err := messaging.NewRabbitMQClient(rabbitCfg, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "bot_main",
			"error":     err,
		}).Fatal("Failed to initialize RabbitMQ")
	}
	defer messageClient.Close()

	// Initialize the bot service
	botService := service.NewBotService(manager, rabbitCfg, messageClient, messageClient, log, service.Deps{})

	// Start the service
	if err := botService.Start(ctx); err != nil {
		log.WithFields(logrus.Fields{
			"component": "bot_main",
			"error":     err,
		}).Fatal("Failed to start bot service")
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a termination signal
	sig := <-sigCh
	log.WithFields(logrus.Fields{
		"component": "bot_main",
		"signal":    sig,
	}).Info("Received signal, shutting down")

	// Cancel running requests, then wait for them to report
	cancel()
	botService.Stop()
}
