// Package service is the chat bot: it consumes chat events from RabbitMQ,
// applies the access policy and runs commands.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sube3494/bilidownloader/internal/access"
	"github.com/Sube3494/bilidownloader/internal/bot/session"
	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/messaging"
	"github.com/Sube3494/bilidownloader/internal/cookie"
	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/Sube3494/bilidownloader/internal/pipeline"
	"github.com/Sube3494/bilidownloader/internal/settings"
	"github.com/Sube3494/bilidownloader/pkg/models"
	"github.com/sirupsen/logrus"
)

var errNoPrompt = errors.New("no selection prompt was sent")

// Runner runs one acquisition.
type Runner interface {
	Run(ctx context.Context, text string, in pipeline.Interaction) *pipeline.Request
}

// CookieChecker asks the account endpoint who a cookie belongs to.
type CookieChecker interface {
	CheckCookie(ctx context.Context, cookie string) (metadata.Account, error)
}

// Settings is the live config and its mutations.
type Settings interface {
	Config() *config.Config
	Set(ctx context.Context, name, value string) (settings.Change, error)
	SetCookie(ctx context.Context, raw string) (string, error)
}

// Deps lets tests swap the pipeline and the cookie checker. Nil fields get
// the production implementations built from the current config.
type Deps struct {
	NewRunner  func(cfg *config.Config) Runner
	NewChecker func(cfg *config.Config) CookieChecker
}

type BotService struct {
	settings  Settings
	rabbitCfg *config.RabbitMQConfig
	message   messaging.Publisher
	consumer  messaging.Client
	log       *logrus.Logger
	sessions  *session.Registry
	sem       chan struct{}
	deps      Deps

	runMu   sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	gateMu  sync.Mutex
	gateCfg *config.Config
	gate    *access.Gate
}

// NewBotService wires the bot. consumer may be nil when events are fed
// through HandleEvent directly.
func NewBotService(st Settings, rabbitCfg *config.RabbitMQConfig, publisher messaging.Publisher, consumer messaging.Client, log *logrus.Logger, deps Deps) *BotService {
	s := &BotService{
		settings:  st,
		rabbitCfg: rabbitCfg,
		message:   publisher,
		consumer:  consumer,
		log:       log,
		sessions:  session.NewRegistry(),
		sem:       make(chan struct{}, max(1, st.Config().Bot.Concurrency)),
		deps:      deps,
	}
	if s.deps.NewRunner == nil {
		reporter := pipeline.NewBusReporter(publisher, rabbitCfg.Exchange.Log, log)
		s.deps.NewRunner = func(cfg *config.Config) Runner {
			return pipeline.FromConfig(cfg, reporter, log)
		}
	}
	if s.deps.NewChecker == nil {
		s.deps.NewChecker = func(cfg *config.Config) CookieChecker {
			return metadata.NewClient(&cfg.Bilibili, log)
		}
	}
	return s
}

// Start declares the queues and starts consuming chat events.
func (s *BotService) Start(ctx context.Context) error {
	if s.consumer == nil {
		return fmt.Errorf("no message consumer configured")
	}
	if err := s.setupMessaging(); err != nil {
		return fmt.Errorf("failed to setup messaging: %w", err)
	}

	if err := s.consumer.SetQos(cap(s.sem) * 4); err != nil {
		s.log.WithField("component", "bot").WithError(err).Warn("Failed to set QoS")
	}

	if err := s.consumer.ConsumeWithContext(ctx, s.rabbitCfg.Queue.ChatQueue, func(body []byte, routingKey string) error {
		s.log.WithFields(logrus.Fields{
			"component":   "bot",
			"routing_key": routingKey,
		}).Debug("Received chat event")
		return s.handleMessage(ctx, body)
	}); err != nil {
		return fmt.Errorf("failed to consume chat events: %w", err)
	}

	s.log.WithField("component", "bot").Info("Bot service started successfully")
	return nil
}

// Stop refuses new background work and waits for running requests.
func (s *BotService) Stop() {
	s.runMu.Lock()
	s.stopped = true
	s.runMu.Unlock()
	s.wg.Wait()
	s.log.WithField("component", "bot").Info("Bot service stopped")
}

// setupMessaging sets up the messaging infrastructure
func (s *BotService) setupMessaging() error {
	queues := []struct {
		name        string
		exchange    string
		routingKeys []string
	}{
		{
			name:        s.rabbitCfg.Queue.ChatQueue,
			exchange:    s.rabbitCfg.Exchange.Chat,
			routingKeys: []string{config.RoutingChatEvent},
		},
		{
			name:        s.rabbitCfg.Queue.ReplyQueue,
			exchange:    s.rabbitCfg.Exchange.Chat,
			routingKeys: []string{config.RoutingChatReply},
		},
		{
			name:        s.rabbitCfg.Queue.LogQueue,
			exchange:    s.rabbitCfg.Exchange.Log,
			routingKeys: []string{config.RoutingPipelineLog},
		},
	}

	for _, q := range queues {
		if err := s.consumer.DeclareQueue(q.name); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		for _, key := range q.routingKeys {
			if err := s.consumer.BindQueue(q.name, q.exchange, key); err != nil {
				return fmt.Errorf("failed to bind queue %s to %s: %w", q.name, key, err)
			}
		}
	}
	return nil
}

func (s *BotService) handleMessage(ctx context.Context, body []byte) error {
	var ev models.ChatEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal chat event: %w: %v", messaging.ErrDrop, err)
	}
	s.HandleEvent(ctx, ev)
	return nil
}

// HandleEvent processes one chat message. Commands that may block run in
// their own goroutine so selection replies keep flowing.
func (s *BotService) HandleEvent(ctx context.Context, ev models.ChatEvent) {
	cfg := s.settings.Config()
	entry := s.log.WithFields(logrus.Fields{
		"component": "bot",
		"event_id":  ev.ID,
		"group":     ev.GroupID,
		"sender":    ev.SenderID,
	})

	if !s.gateFor(cfg).Allow(access.Context{GroupID: ev.GroupID, SenderID: ev.SenderID, IsAdmin: ev.IsAdmin}) {
		entry.Debug("Ignoring message from requester without access")
		return
	}

	text := strings.TrimSpace(ev.Text)
	if s.sessions.Deliver(session.Key{GroupID: ev.GroupID, SenderID: ev.SenderID}, text) {
		entry.Debug("Delivered reply to pending part selection")
		return
	}

	cmd, rest, ok := ParseCommand(text)
	if !ok {
		return
	}
	entry = entry.WithField("command", cmd)
	entry.Info("Handling command")

	switch cmd {
	case CmdAcquire:
		if rest == "" {
			s.reply(ev, "", models.ReplyResult, usageText)
			return
		}
		if !s.spawn(ctx, func() { s.acquire(ctx, ev, rest) }) {
			entry.Warn("Service is stopping, dropping command")
		}
	case CmdTestCookie:
		if !s.spawn(ctx, func() { s.testCookie(ctx, ev, rest) }) {
			entry.Warn("Service is stopping, dropping command")
		}
	case CmdSet:
		s.reply(ev, "", models.ReplyResult, s.set(ctx, rest))
	case CmdCookie:
		s.reply(ev, "", models.ReplyResult, s.setCookie(ctx, rest))
	case CmdConfig:
		s.reply(ev, "", models.ReplyResult, configText(cfg))
	case CmdNaming:
		s.reply(ev, "", models.ReplyResult, namingText())
	case CmdHelp:
		s.reply(ev, "", models.ReplyResult, helpText)
	}
}

// spawn runs fn on a tracked goroutine unless the service is stopping.
// The check and wg.Add share runMu with Stop so Wait never races an Add.
func (s *BotService) spawn(ctx context.Context, fn func()) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopped || ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// gateFor rebuilds the gate only when the config snapshot changed.
func (s *BotService) gateFor(cfg *config.Config) *access.Gate {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.gateCfg != cfg {
		s.gate = access.FromConfig(cfg, s.log)
		s.gateCfg = cfg
	}
	return s.gate
}

func (s *BotService) acquire(ctx context.Context, ev models.ChatEvent, text string) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	runner := s.deps.NewRunner(s.settings.Config())
	chat := &chatInteraction{s: s, ev: ev}
	req := runner.Run(ctx, text, pipeline.Interaction{Notifier: chat, Prompter: chat, Waiter: chat})

	s.log.WithFields(logrus.Fields{
		"component":  "bot",
		"request_id": req.ID,
		"success":    req.Err == nil,
		"duration":   req.Finished.Sub(req.Started).Round(time.Millisecond),
	}).Info("Request finished")

	s.reply(ev, req.ID, models.ReplyResult, req.Message)
}

func (s *BotService) set(ctx context.Context, rest string) string {
	if rest == "" {
		return setHelpText()
	}
	key, value, _ := strings.Cut(rest, " ")
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Sprintf("请提供配置值\n用法: /bili-set %s <值>", key)
	}

	change, err := s.settings.Set(ctx, key, value)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "bot",
			"key":       key,
		}).WithError(err).Warn("Failed to apply setting")
		return setErrorText(key, value, err)
	}
	return setResultText(change)
}

func (s *BotService) setCookie(ctx context.Context, raw string) string {
	if raw == "" {
		return cookieUsageText
	}
	normalized, err := s.settings.SetCookie(ctx, raw)
	if errors.Is(err, settings.ErrEmptyCookie) {
		return "Cookie 解析失败，请检查格式"
	}
	if err != nil {
		s.log.WithField("component", "bot").WithError(err).Error("Failed to set cookie")
		return "设置 Cookie 失败: " + err.Error()
	}
	return cookieSetText(normalized)
}

func (s *BotService) testCookie(ctx context.Context, ev models.ChatEvent, raw string) {
	cfg := s.settings.Config()
	candidate := raw
	if candidate == "" {
		candidate = cfg.Downloader.Cookie
	}
	if strings.TrimSpace(candidate) == "" {
		s.reply(ev, "", models.ReplyResult, testCookieUsageText)
		return
	}

	s.reply(ev, "", models.ReplyProgress, "正在测试Cookie，请稍候...")

	account, err := s.deps.NewChecker(cfg).CheckCookie(ctx, cookie.Normalize(candidate))
	if err != nil {
		s.log.WithField("component", "bot").WithError(err).Info("Cookie check failed")
		s.reply(ev, "", models.ReplyResult, testCookieFailed(err))
		return
	}
	s.reply(ev, "", models.ReplyResult, testCookieOK(account))
}

func (s *BotService) reply(ev models.ChatEvent, requestID string, kind models.ReplyKind, text string) {
	msg := models.ChatReply{
		EventID:   ev.ID,
		RequestID: requestID,
		GroupID:   ev.GroupID,
		SenderID:  ev.SenderID,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := s.message.PublishJSON(s.rabbitCfg.Exchange.Chat, config.RoutingChatReply, msg); err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "bot",
			"event_id":  ev.ID,
		}).WithError(err).Error("Failed to publish chat reply")
	}
}

// chatInteraction adapts one chat event to the pipeline's notifier, prompter
// and waiter. The reply session is open only between the prompt and the
// reply.
type chatInteraction struct {
	s    *BotService
	ev   models.ChatEvent
	sess *session.Session
}

func (c *chatInteraction) Notify(_ context.Context, text string) error {
	c.s.reply(c.ev, "", models.ReplyProgress, text)
	return nil
}

func (c *chatInteraction) Prompt(_ context.Context, text string) error {
	sess, err := c.s.sessions.Open(session.Key{GroupID: c.ev.GroupID, SenderID: c.ev.SenderID})
	if err != nil {
		return err
	}
	c.sess = sess
	c.s.reply(c.ev, "", models.ReplyPrompt, text)
	return nil
}

func (c *chatInteraction) Wait(ctx context.Context) (string, error) {
	if c.sess == nil {
		return "", errNoPrompt
	}
	defer c.sess.Close()
	return c.sess.Wait(ctx)
}
