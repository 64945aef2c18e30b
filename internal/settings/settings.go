// Package settings applies runtime changes (bili-set, bili-cookie, the web
// panel) on top of the loaded config and persists them as overrides.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/store"
	"github.com/Sube3494/bilidownloader/internal/cookie"
	"github.com/Sube3494/bilidownloader/internal/naming"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
	ErrEmptyCookie  = errors.New("cookie could not be parsed")
)

type kind int

const (
	kindString kind = iota
	kindDir
	kindBool
	kindQuality
)

// Key is one user-settable option.
type Key struct {
	Name        string
	ConfigKey   string
	Description string
	kind        kind
}

// Keys lists the settable options in help order.
var Keys = []Key{
	{Name: "bbdown_path", ConfigKey: "downloader.bbdown_path", Description: "BBDown可执行文件路径", kind: kindString},
	{Name: "download_path", ConfigKey: "downloader.download_path", Description: "下载保存路径", kind: kindDir},
	{Name: "classify_by_owner", ConfigKey: "downloader.classify_by_owner", Description: "按UP主名称分类文件夹（true/false 或 是/否）", kind: kindBool},
	{Name: "quality", ConfigKey: "downloader.default_options.quality", Description: "默认清晰度（8K/4K/1080P60/1080P/720P60/720P/480P/360P，留空表示自动）", kind: kindQuality},
	{Name: "danmaku", ConfigKey: "downloader.default_options.download_danmaku", Description: "是否下载弹幕（true/false 或 是/否）", kind: kindBool},
	{Name: "subtitle", ConfigKey: "downloader.default_options.download_subtitle", Description: "是否下载字幕（true/false 或 是/否）", kind: kindBool},
	{Name: "single_pattern", ConfigKey: "downloader.naming.single_video_pattern", Description: "单个视频命名格式", kind: kindString},
	{Name: "multi_pattern", ConfigKey: "downloader.naming.multi_video_pattern", Description: "分P视频命名格式", kind: kindString},
}

const cookieKey = "downloader.cookie"

// Lookup finds a key by its short name.
func Lookup(name string) (Key, bool) {
	for _, k := range Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

var truthy = map[string]struct{}{
	"true": {}, "1": {}, "yes": {}, "是": {}, "开启": {}, "on": {},
}

// ParseBool accepts true/1/yes/是/开启/on; everything else is false.
func ParseBool(value string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// Change is an applied setting.
type Change struct {
	Key   Key
	Value any
}

// Manager owns the live config. Config() snapshots are never mutated; every
// change loads a fresh one.
type Manager struct {
	path  string
	store store.Store
	log   *logrus.Logger

	mu        sync.RWMutex
	overrides map[string]any
	cfg       *config.Config
}

// NewManager loads the config file merged with the stored overrides.
func NewManager(ctx context.Context, path string, st store.Store, log *logrus.Logger) (*Manager, error) {
	overrides, err := st.Load(ctx)
	if err != nil {
		log.WithFields(logrus.Fields{"component": "settings"}).WithError(err).Warn("Failed to load overrides, using config file only")
		overrides = map[string]any{}
	}

	cfg, err := config.Load(path, overrides)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:      path,
		store:     st,
		log:       log,
		overrides: overrides,
		cfg:       cfg,
	}, nil
}

// Config returns the current snapshot.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set validates and applies one option.
func (m *Manager) Set(ctx context.Context, name, value string) (Change, error) {
	key, ok := Lookup(name)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}

	var parsed any = value
	switch key.kind {
	case kindBool:
		parsed = ParseBool(value)
	case kindQuality:
		if !config.IsValidQuality(value) {
			return Change{}, fmt.Errorf("%w: quality %q", ErrInvalidValue, value)
		}
	case kindDir:
		if strings.TrimSpace(value) == "" {
			return Change{}, fmt.Errorf("%w: empty path", ErrInvalidValue)
		}
		if err := os.MkdirAll(value, 0o755); err != nil {
			return Change{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	case kindString:
		if key.Name == "bbdown_path" && strings.TrimSpace(value) == "" {
			return Change{}, fmt.Errorf("%w: empty path", ErrInvalidValue)
		}
	}

	if err := m.apply(ctx, key.ConfigKey, parsed); err != nil {
		return Change{}, err
	}
	return Change{Key: key, Value: parsed}, nil
}

// SetCookie normalizes and stores the session cookie. It returns the
// normalized form.
func (m *Manager) SetCookie(ctx context.Context, raw string) (string, error) {
	normalized := cookie.Normalize(raw)
	if strings.TrimSpace(normalized) == "" {
		return "", ErrEmptyCookie
	}
	if err := m.apply(ctx, cookieKey, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

func (m *Manager) apply(ctx context.Context, configKey string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]any, len(m.overrides)+1)
	for k, v := range m.overrides {
		next[k] = v
	}
	next[configKey] = value

	cfg, err := config.Load(m.path, next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := m.store.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to persist setting: %w", err)
	}

	m.overrides = next
	m.cfg = cfg

	entry := m.log.WithFields(logrus.Fields{
		"component": "settings",
		"key":       configKey,
	})
	if configKey == cookieKey {
		entry.Info("Cookie updated")
	} else {
		entry.WithField("value", value).Info("Setting updated")
	}
	return nil
}

// View is the config as shown to users. The cookie is reduced to whether it
// is set.
type View struct {
	DownloadPath     string `json:"download_path"`
	ExecutablePath   string `json:"bbdown_path"`
	CookieSet        bool   `json:"cookie_set"`
	ClassifyByOwner  bool   `json:"classify_by_owner"`
	Quality          string `json:"quality"`
	DownloadDanmaku  bool   `json:"download_danmaku"`
	DownloadSubtitle bool   `json:"download_subtitle"`
	SinglePattern    string `json:"single_video_pattern"`
	MultiPattern     string `json:"multi_video_pattern"`
	AlistEnabled     bool   `json:"alist_enabled"`
	ShortenerEnabled bool   `json:"shortener_enabled"`
}

// NewView builds the user-facing view. Empty naming patterns show the
// built-in defaults.
func NewView(cfg *config.Config) View {
	d := cfg.Downloader
	v := View{
		DownloadPath:     d.DownloadPath,
		ExecutablePath:   d.ExecutablePath,
		CookieSet:        strings.TrimSpace(d.Cookie) != "",
		ClassifyByOwner:  d.ClassifyByOwner,
		Quality:          d.Options.Quality,
		DownloadDanmaku:  d.Options.DownloadDanmaku,
		DownloadSubtitle: d.Options.DownloadSubtitle,
		SinglePattern:    d.Naming.SinglePattern,
		MultiPattern:     d.Naming.MultiPattern,
		AlistEnabled:     cfg.Alist.Enabled,
		ShortenerEnabled: cfg.Alist.Shortener.Enabled,
	}
	if v.SinglePattern == "" {
		v.SinglePattern = naming.Default(false)
	}
	if v.MultiPattern == "" {
		v.MultiPattern = naming.Default(true)
	}
	return v
}
