package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisProvider implements Provider using Redis. Runs are JSON strings indexed
// by a sorted set scored on start time; presets live in a single hash.
type RedisProvider struct {
	client      *redis.Client
	runStore    *RedisRunStore
	presetStore *RedisPresetStore
}

// NewRedisProvider creates a Redis storage provider
func NewRedisProvider(config RedisProviderConfig) (*RedisProvider, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisProviderWithClient(client, config.KeyPrefix), nil
}

// NewRedisProviderWithClient creates a provider over an existing client
func NewRedisProviderWithClient(client *redis.Client, keyPrefix string) *RedisProvider {
	return &RedisProvider{
		client:      client,
		runStore:    &RedisRunStore{client: client, prefix: keyPrefix},
		presetStore: &RedisPresetStore{client: client, key: keyPrefix + "presets"},
	}
}

// Initialize verifies the connection
func (p *RedisProvider) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Runs returns the run store
func (p *RedisProvider) Runs() RunStore {
	return p.runStore
}

// Presets returns the preset store
func (p *RedisProvider) Presets() PresetStore {
	return p.presetStore
}

// RedisRunStore implements RunStore using Redis
type RedisRunStore struct {
	client *redis.Client
	prefix string
}

func (s *RedisRunStore) runKey(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisRunStore) indexKey() string {
	return s.prefix + "runs"
}

// SaveRun stores the run and indexes it by start time
func (s *RedisRunStore) SaveRun(run models.ExecutionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ctx := context.Background()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(run.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(run.StartTime.UnixNano()), Member: run.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run
func (s *RedisRunStore) GetRun(runID string) (models.ExecutionRun, error) {
	data, err := s.client.Get(context.Background(), s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ExecutionRun{}, ErrNotFound
	}
	if err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to get run: %w", err)
	}

	var run models.ExecutionRun
	if err := json.Unmarshal(data, &run); err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *RedisRunStore) ListRuns(limit int) ([]models.ExecutionRun, error) {
	ctx := context.Background()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	runs := make([]models.ExecutionRun, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var run models.ExecutionRun
		if err := json.Unmarshal([]byte(str), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// RedisPresetStore implements PresetStore using a Redis hash
type RedisPresetStore struct {
	client *redis.Client
	key    string
}

// SavePreset inserts or replaces a preset
func (s *RedisPresetStore) SavePreset(preset models.Preset) error {
	data, err := json.Marshal(preset)
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}
	if err := s.client.HSet(context.Background(), s.key, preset.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	return nil
}

// GetPreset retrieves a preset
func (s *RedisPresetStore) GetPreset(id string) (models.Preset, error) {
	data, err := s.client.HGet(context.Background(), s.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Preset{}, ErrNotFound
	}
	if err != nil {
		return models.Preset{}, fmt.Errorf("failed to get preset: %w", err)
	}
	var preset models.Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return models.Preset{}, fmt.Errorf("failed to unmarshal preset: %w", err)
	}
	return preset, nil
}

// ListPresets returns all presets ordered by name
func (s *RedisPresetStore) ListPresets() ([]models.Preset, error) {
	all, err := s.client.HGetAll(context.Background(), s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	presets := make([]models.Preset, 0, len(all))
	for _, data := range all {
		var preset models.Preset
		if err := json.Unmarshal([]byte(data), &preset); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preset: %w", err)
		}
		presets = append(presets, preset)
	}
	return byName(presets), nil
}

// DeletePreset removes a preset
func (s *RedisPresetStore) DeletePreset(id string) error {
	n, err := s.client.HDel(context.Background(), s.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
