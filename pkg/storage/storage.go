// Package storage is the host key-value store the highlighter persists to.
// Values are opaque JSON documents grouped into namespaces, mirroring the
// sync and local areas of a browser extension.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/devraulu/hilight/pkg/config"
)

type Namespace string

const (
	// Sync holds user settings.
	Sync Namespace = "sync"
	// Local holds per-page highlight records.
	Local Namespace = "local"
)

var ErrClosed = errors.New("storage: closed")

type Store interface {
	// Get returns the stored values for keys. Missing keys are absent from
	// the result. With no keys every entry of the namespace is returned.
	Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error)
	// Set writes all items atomically.
	Set(ctx context.Context, ns Namespace, items map[string][]byte) error
	Remove(ctx context.Context, ns Namespace, keys ...string) error
	Close() error
}

// Open returns the store selected by cfg.Driver, with its schema migrated.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return OpenSQLite(cfg.DSN)
	case "postgres":
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
