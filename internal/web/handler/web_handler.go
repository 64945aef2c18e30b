// Package handler serves the web panel: config editing, one-shot
// acquisitions and a live feed of pipeline logs.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/messaging"
	"github.com/Sube3494/bilidownloader/internal/cookie"
	"github.com/Sube3494/bilidownloader/internal/pipeline"
	"github.com/Sube3494/bilidownloader/internal/selection"
	"github.com/Sube3494/bilidownloader/internal/settings"
	"github.com/Sube3494/bilidownloader/internal/web/websocket"
	"github.com/Sube3494/bilidownloader/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Settings is the live config and its mutations.
type Settings interface {
	Config() *config.Config
	Set(ctx context.Context, name, value string) (settings.Change, error)
	SetCookie(ctx context.Context, raw string) (string, error)
}

// Runner runs one acquisition.
type Runner interface {
	Run(ctx context.Context, text string, in pipeline.Interaction) *pipeline.Request
}

type Handler struct {
	settings  Settings
	rabbitCfg *config.RabbitMQConfig
	log       *logrus.Logger
	message   messaging.Client
	wsHub     *websocket.Hub
	newRunner func(cfg *config.Config) Runner
	started   time.Time

	mu    sync.Mutex
	stats models.Stats
}

// NewHandler wires the panel. newRunner may be nil, in which case the
// production pipeline reporting to the log exchange is used.
func NewHandler(st Settings, rabbitCfg *config.RabbitMQConfig, log *logrus.Logger, msg messaging.Client, hub *websocket.Hub, newRunner func(cfg *config.Config) Runner) *Handler {
	h := &Handler{
		settings:  st,
		rabbitCfg: rabbitCfg,
		log:       log,
		message:   msg,
		wsHub:     hub,
		newRunner: newRunner,
		started:   time.Now(),
	}
	if h.newRunner == nil {
		reporter := pipeline.NewBusReporter(msg, rabbitCfg.Exchange.Log, log)
		h.newRunner = func(cfg *config.Config) Runner {
			return pipeline.FromConfig(cfg, reporter, log)
		}
	}
	return h
}

// Start declares the log queue and begins relaying it to websocket clients.
func (h *Handler) Start(ctx context.Context) error {
	if err := h.message.DeclareQueue(h.rabbitCfg.Queue.LogQueue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", h.rabbitCfg.Queue.LogQueue, err)
	}
	if err := h.message.BindQueue(h.rabbitCfg.Queue.LogQueue, h.rabbitCfg.Exchange.Log, config.RoutingPipelineLog); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", h.rabbitCfg.Queue.LogQueue, err)
	}
	if err := h.message.ConsumeWithContext(ctx, h.rabbitCfg.Queue.LogQueue, h.handleLog); err != nil {
		return fmt.Errorf("failed to consume pipeline logs: %w", err)
	}
	return nil
}

// handleLog updates the counters and forwards one pipeline log.
func (h *Handler) handleLog(body []byte, routingKey string) error {
	if routingKey != config.RoutingPipelineLog {
		return nil
	}

	var entry models.PipelineLog
	if err := json.Unmarshal(body, &entry); err != nil {
		h.log.WithField("component", "web_handler").WithError(err).Error("Failed to unmarshal pipeline log message")
		return fmt.Errorf("%w: %v", messaging.ErrDrop, err)
	}

	stats := h.count(entry.Stage)

	wsMessage, err := json.Marshal(map[string]any{
		"type":  "pipeline_log",
		"log":   entry,
		"stats": stats,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrDrop, err)
	}

	h.wsHub.Broadcast(wsMessage)
	h.log.WithFields(logrus.Fields{
		"component":  "web_handler",
		"request_id": entry.RequestID,
		"stage":      entry.Stage,
	}).Debug("Broadcasting pipeline log to WebSocket clients")
	return nil
}

func (h *Handler) count(stage string) models.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch pipeline.Stage(stage) {
	case pipeline.StageResolve:
		h.stats.Requests++
	case pipeline.StageDone:
		h.stats.Succeeded++
	case pipeline.StageFailed:
		h.stats.Failed++
	}
	return h.stats
}

// Stats returns the counters seen so far.
func (h *Handler) Stats() models.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.IndexHandler())
	r.GET("/ws", websocket.Handler(h.wsHub, h.log))

	api := r.Group("/api")
	{
		api.GET("/config", h.GetConfigHandler())
		api.POST("/config", h.RequireAdmin(), h.UpdateConfigHandler())
		api.POST("/acquire", h.RequireAdmin(), h.AcquireHandler())
	}
}

// RequireAdmin checks the "Authorization: Bearer <token>" header against
// webpanel.admin_token. With no token configured every request is refused.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := h.settings.Config().WebPanel.AdminToken
		if want == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Panel changes are disabled: webpanel.admin_token is not set",
			})
			return
		}

		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
			h.log.WithFields(logrus.Fields{
				"component": "web_handler",
				"remote":    c.ClientIP(),
				"path":      c.FullPath(),
			}).Warn("Rejected request without a valid admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// panelLocked lists keys that can only be changed from the config file or
// by a chat admin.
var panelLocked = map[string]struct{}{
	"bbdown_path": {},
}

// IndexHandler reports liveness and the counters.
func (h *Handler) IndexHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := h.settings.Config()
		c.JSON(http.StatusOK, gin.H{
			"name":    cfg.App.Name,
			"status":  "ok",
			"uptime":  time.Since(h.started).Round(time.Second).String(),
			"clients": h.wsHub.Clients(),
			"stats":   h.Stats(),
		})
	}
}

// GetConfigHandler returns the config without the cookie.
func (h *Handler) GetConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"config": settings.NewView(h.settings.Config()),
			"keys":   settingKeys(),
		})
	}
}

func settingKeys() []gin.H {
	keys := make([]gin.H, 0, len(settings.Keys)+1)
	for _, k := range settings.Keys {
		if _, locked := panelLocked[k.Name]; locked {
			continue
		}
		keys = append(keys, gin.H{"name": k.Name, "description": k.Description})
	}
	return append(keys, gin.H{"name": "cookie", "description": "B站Cookie"})
}

// UpdateConfigHandler applies one key/value change.
func (h *Handler) UpdateConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key   string `json:"key" binding:"required"`
			Value string `json:"value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		entry := h.log.WithFields(logrus.Fields{
			"component": "web_handler",
			"key":       req.Key,
		})

		if _, locked := panelLocked[req.Key]; locked {
			entry.Warn("Rejected change of a locked setting")
			c.JSON(http.StatusForbidden, gin.H{
				"error": req.Key + " cannot be changed from the web panel",
			})
			return
		}

		var (
			value any
			err   error
		)
		if req.Key == "cookie" {
			var normalized string
			normalized, err = h.settings.SetCookie(c.Request.Context(), req.Value)
			value = cookie.Mask(normalized)
		} else {
			var change settings.Change
			change, err = h.settings.Set(c.Request.Context(), req.Key, req.Value)
			value = change.Value
		}
		if err != nil {
			entry.WithError(err).Warn("Failed to update setting")
			c.JSON(statusFor(err), gin.H{
				"error": err.Error(),
			})
			return
		}

		entry.Info("Setting updated")
		c.JSON(http.StatusOK, gin.H{
			"message": "Configuration updated successfully",
			"key":     req.Key,
			"value":   value,
			"config":  settings.NewView(h.settings.Config()),
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrUnknownKey),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, settings.ErrEmptyCookie):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AcquireHandler runs the pipeline without prompting. The part selection
// comes from the body and defaults to every part.
func (h *Handler) AcquireHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			URL       string `json:"url" binding:"required"`
			Selection string `json:"selection"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		var in pipeline.Interaction
		if strings.TrimSpace(req.Selection) != "" {
			// The part count is unknown here; out-of-range indices are left
			// to the downloader.
			preset := selection.Parse(req.Selection, math.MaxInt)
			in.Preset = &preset
		}

		result := h.newRunner(h.settings.Config()).Run(c.Request.Context(), req.URL, in)

		h.log.WithFields(logrus.Fields{
			"component":  "web_handler",
			"request_id": result.ID,
			"success":    result.Err == nil,
		}).Info("Acquisition finished")

		status := http.StatusOK
		if result.Err != nil {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"request_id": result.ID,
			"success":    result.Err == nil,
			"message":    result.Message,
			"links":      len(result.Files),
		})
	}
}
