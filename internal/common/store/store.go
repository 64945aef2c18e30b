// Package store persists runtime config overrides written by bili-set,
// bili-cookie and the web panel. Keys are dotted config paths.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store loads and saves the full override map.
type Store interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, overrides map[string]any) error
}

// New picks the backend named by store.backend.
func New(cfg *config.StoreConfig, log *logrus.Logger) (Store, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, cfg.RedisKey), nil
	case "none":
		return &MemoryStore{}, nil
	default:
		return NewFileStore(cfg.Path, log), nil
	}
}

// FileStore keeps overrides in a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *logrus.Logger
}

func NewFileStore(path string, log *logrus.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

// Load returns an empty map when the file is missing or malformed.
func (s *FileStore) Load(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "store",
			"path":      s.path,
		}).WithError(err).Warn("Malformed overrides file, ignoring it")
		return map[string]any{}, nil
	}
	return out, nil
}

// Save replaces the file through a rename.
func (s *FileStore) Save(_ context.Context, overrides map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(overrides, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create overrides directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write overrides: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// kv is the subset of the redis client the store needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps overrides as one JSON value, so every process sharing the
// Redis instance sees the same settings.
type RedisStore struct {
	client kv
	key    string
}

func NewRedisStore(client kv, key string) *RedisStore {
	if key == "" {
		key = "bilidownloader:overrides"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides from Redis: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, overrides map[string]any) error {
	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}
	if err := s.client.Set(ctx, s.key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to save overrides to Redis: %w", err)
	}
	return nil
}

// MemoryStore keeps overrides for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]any
}

func (s *MemoryStore) Load(context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, overrides map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any, len(overrides))
	for k, v := range overrides {
		s.data[k] = v
	}
	return nil
}
