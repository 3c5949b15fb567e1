// Package factory opens the audit store backend selected by configuration.
package factory

import (
	"fmt"

	"github.com/loykin/hwman/internal/store"
	"github.com/loykin/hwman/internal/store/postgres"
	"github.com/loykin/hwman/internal/store/sqlite"
)

// New opens the backend named by cfg. An empty type means no audit store
// is configured; the caller gets (nil, nil) and skips recording.
func New(cfg store.Config) (store.Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres", "postgresql":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
