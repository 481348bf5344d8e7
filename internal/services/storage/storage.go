package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/middleware"
	"github.com/llm-chat-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Storage persists conversation history snapshots keyed by session id. The
// core session makes no assumption about the medium; it only round-trips
// ExportHistory/ImportHistory payloads through this interface.
type Storage interface {
	SaveHistory(ctx context.Context, snapshot *models.HistorySnapshot) error
	LoadHistory(ctx context.Context, sessionID string) (*models.HistorySnapshot, error)
	DeleteHistory(ctx context.Context, sessionID string) error
}

// Manager selects and wraps a storage backend, counting every operation
type Manager struct {
	storage Storage
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "memory":
		storage = NewMemoryStorage(&cfg.Storage.Memory, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return &Manager{storage: storage, metrics: middleware.NewMetrics(), logger: logger}, nil
}

func (m *Manager) SaveHistory(ctx context.Context, snapshot *models.HistorySnapshot) error {
	err := m.storage.SaveHistory(ctx, snapshot)
	m.metrics.RecordStorageOperation("save", opStatus(err))
	return err
}

func (m *Manager) LoadHistory(ctx context.Context, sessionID string) (*models.HistorySnapshot, error) {
	snapshot, err := m.storage.LoadHistory(ctx, sessionID)
	m.metrics.RecordStorageOperation("load", opStatus(err))
	return snapshot, err
}

func (m *Manager) DeleteHistory(ctx context.Context, sessionID string) error {
	err := m.storage.DeleteHistory(ctx, sessionID)
	m.metrics.RecordStorageOperation("delete", opStatus(err))
	return err
}

func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RedisStorage persists snapshots in Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, logger: logger}, nil
}

func (r *RedisStorage) SaveHistory(ctx context.Context, snapshot *models.HistorySnapshot) error {
	key := historyKey(snapshot.SessionID)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": snapshot.SessionID,
		"messages":   len(snapshot.Messages),
	}).Debug("History saved")
	return nil
}

func (r *RedisStorage) LoadHistory(ctx context.Context, sessionID string) (*models.HistorySnapshot, error) {
	data, err := r.client.Get(ctx, historyKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot models.HistorySnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (r *RedisStorage) DeleteHistory(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, historyKey(sessionID)).Err()
}

// MemoryStorage persists snapshots in an in-process cache
type MemoryStorage struct {
	histories *cache.Cache
	logger    *logrus.Logger
}

func NewMemoryStorage(cfg *config.MemoryConfig, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		histories: cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		logger:    logger,
	}
}

func (m *MemoryStorage) SaveHistory(ctx context.Context, snapshot *models.HistorySnapshot) error {
	m.histories.SetDefault(historyKey(snapshot.SessionID), snapshot)
	return nil
}

func (m *MemoryStorage) LoadHistory(ctx context.Context, sessionID string) (*models.HistorySnapshot, error) {
	if val, found := m.histories.Get(historyKey(sessionID)); found {
		return val.(*models.HistorySnapshot), nil
	}
	return nil, nil
}

func (m *MemoryStorage) DeleteHistory(ctx context.Context, sessionID string) error {
	m.histories.Delete(historyKey(sessionID))
	return nil
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("history:%s", sessionID)
}
