package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DatabasePool 进程级数据库实例缓存
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式）
//
// The cached instance is replaced when the configuration changes or the
// health check fails.
func GetDatabase(ctx context.Context, config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(ctx, globalPool, config, logger) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	logger.Info("creating database connection")
	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}
	instance, err := NewDatabase(config, logger)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(ctx context.Context, pool *DatabasePool, newConfig DatabaseConfig, logger *slog.Logger) bool {
	if pool == nil || pool.instance == nil {
		return true
	}
	if pool.config != newConfig {
		logger.Info("database configuration changed, recreating connection")
		return true
	}
	if err := pool.instance.HealthCheck(ctx); err != nil {
		logger.Warn("database health check failed, recreating", "error", err)
		return true
	}
	return false
}

// CloseDatabase closes and forgets the cached instance.
func CloseDatabase() error {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if globalPool == nil {
		return nil
	}
	err := globalPool.instance.Close()
	globalPool = nil
	return err
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       time.Since(lastUsed).String(),
		"config": map[string]interface{}{
			"use_memory":   globalPool.config.UseMemory,
			"has_postgres": globalPool.config.PostgresDSN != "",
		},
	}
}
