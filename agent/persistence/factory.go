package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Connections carries the shared clients a backend may need.
// Only the one matching StoreConfig.Type is required.
type Connections struct {
	DB    *gorm.DB
	Redis redis.UniversalClient
}

// NewBackend creates a new Backend based on the configuration
func NewBackend(config StoreConfig, conns Connections, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "persistence"))

	var (
		backend Backend
		err     error
	)
	switch config.Type {
	case StoreTypeMemory, "":
		backend = NewMemoryStore()
	case StoreTypeFile:
		backend, err = NewFileStore(config)
	case StoreTypeRedis:
		if conns.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		backend = NewRedisStore(conns.Redis, config)
	case StoreTypeSQL:
		if conns.DB == nil {
			return nil, fmt.Errorf("sql store requires a database connection")
		}
		backend, err = NewSQLStore(conns.DB, config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("run store initialized", zap.String("type", string(config.Type)))
	return backend, nil
}

// MustNewBackend creates a new Backend or panics on error.
//
// WARNING: This function should ONLY be used during application initialization
// (e.g., in main() or init()). For runtime store creation, use NewBackend instead.
func MustNewBackend(config StoreConfig, conns Connections, logger *zap.Logger) Backend {
	backend, err := NewBackend(config, conns, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create run store: %v", err))
	}
	return backend
}
