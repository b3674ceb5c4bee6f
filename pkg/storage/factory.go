package storage

import (
	"fmt"

	"github.com/tcmartin/pipelinestudio/pkg/config"
)

// ProviderType represents the type of storage provider
type ProviderType string

const (
	// MemoryProviderType is an in-memory storage provider
	MemoryProviderType ProviderType = "memory"

	// DynamoDBProviderType is a DynamoDB storage provider
	DynamoDBProviderType ProviderType = "dynamodb"

	// PostgreSQLProviderType is a PostgreSQL storage provider
	PostgreSQLProviderType ProviderType = "postgres"

	// RedisProviderType is a Redis storage provider
	RedisProviderType ProviderType = "redis"
)

// ProviderConfig contains configuration for storage providers
type ProviderConfig struct {
	// Type is the type of storage provider to create
	Type ProviderType

	DynamoDB   *DynamoDBProviderConfig
	PostgreSQL *PostgreSQLProviderConfig
	Redis      *RedisProviderConfig
}

// NewProvider creates a new storage provider based on the configuration.
// The provider is not initialized.
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case MemoryProviderType, "":
		return NewMemoryProvider(), nil

	case DynamoDBProviderType:
		if config.DynamoDB == nil {
			return nil, fmt.Errorf("DynamoDB configuration is required for DynamoDB provider")
		}
		p, err := NewDynamoDBProvider(*config.DynamoDB)
		if err != nil {
			return nil, err
		}
		return p, nil

	case PostgreSQLProviderType, "postgresql":
		if config.PostgreSQL == nil {
			return nil, fmt.Errorf("PostgreSQL configuration is required for PostgreSQL provider")
		}
		p, err := NewPostgreSQLProvider(*config.PostgreSQL)
		if err != nil {
			return nil, err
		}
		return p, nil

	case RedisProviderType:
		if config.Redis == nil {
			return nil, fmt.Errorf("Redis configuration is required for Redis provider")
		}
		p, err := NewRedisProvider(*config.Redis)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", config.Type)
	}
}

// ProviderConfigFromSettings maps the storage section of the server config
func ProviderConfigFromSettings(s config.StorageConfig) ProviderConfig {
	return ProviderConfig{
		Type: ProviderType(s.Type),
		DynamoDB: &DynamoDBProviderConfig{
			Region:      s.DynamoDB.Region,
			Endpoint:    s.DynamoDB.Endpoint,
			TablePrefix: s.DynamoDB.TablePrefix,
		},
		PostgreSQL: &PostgreSQLProviderConfig{
			Host:     s.Postgres.Host,
			Port:     s.Postgres.Port,
			User:     s.Postgres.User,
			Password: s.Postgres.Password,
			Database: s.Postgres.Database,
			SSLMode:  s.Postgres.SSLMode,
		},
		Redis: &RedisProviderConfig{
			Addr:      s.Redis.Addr,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
		},
	}
}
