package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/logger"
	"github.com/Sube3494/bilidownloader/internal/common/messaging"
	"github.com/Sube3494/bilidownloader/internal/common/store"
	"github.com/Sube3494/bilidownloader/internal/settings"
	"github.com/Sube3494/bilidownloader/internal/web/handler"
	"github.com/Sube3494/bilidownloader/internal/web/websocket"
	"github.com/gin-gonic/gin"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply stored overrides
	overrides, err := store.New(&bootCfg.Store, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"backend":   bootCfg.Store.Backend,
			"error":     err,
		}).Fatal("Failed to open override store")
	}
	manager, err := settings.NewManager(ctx, configPath, overrides, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to load settings")
	}
	cfg := manager.Config()

	// Get the configuration
	webCfg := cfg.GetWebPanelConfig()
	rabbitCfg := cfg.GetRabbitMQConfig()

	// Print the Web panel configuration
	log.WithFields(logrus.Fields{
		"component": "web_main",
		"config":    fmt.Sprintf("%+v", *webCfg),
	}).Debug("Web panel configuration loaded")

	// Initialize message consumer
	msgClient, err := messaging.NewRabbitMQClient(rabbitCfg, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to create RabbitMQ client")
	}
	defer msgClient.Close()

	// Check environment
	if cfg.GetAppConfig().Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the gin router
	r := gin.Default()

	// Setup Handlers
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	h := handler.NewHandler(manager, rabbitCfg, log, msgClient, hub, nil)
	if err := h.Start(ctx); err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to consume pipeline logs")
	}

	// Register routes
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    webCfg.Host + ":" + strconv.Itoa(webCfg.Port),
		Handler: r,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"addr":      srv.Addr,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logrus.Fields{
				"component": "web_main",
				"error":     err,
			}).Fatal("Failed to start server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithFields(logrus.Fields{
		"component": "web_main",
		"signal":    sig,
	}).Info("Received signal, shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("component", "web_main").WithError(err).Error("Server shutdown failed")
	}
	cancel()
}
