// Package kv provides small string key-value stores used to persist user
// preferences.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is a durable string key-value holder.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Driver is one of "file", "sqlite", "redis" or "memory".
	Driver string

	// Path is the YAML file used by the file driver.
	Path string
	// DSN is the database/sql data source name for the sqlite driver.
	DSN string
	// RedisAddr and RedisKey configure the redis driver. Values live in a
	// single hash named RedisKey.
	RedisAddr string
	RedisKey  string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileStore(opts.Path)
	case "sqlite":
		return OpenSQLite(ctx, opts.DSN)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisKey)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", opts.Driver)
	}
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
