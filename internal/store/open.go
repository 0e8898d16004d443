package store

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/call-eval/internal/config"
)

// DefaultSQLitePath is where run history lands when no path is configured.
const DefaultSQLitePath = "data/call-eval.db"

// Open builds a Store from the storage section of the config.
func Open(cfg *config.Config) (Store, error) {
	storageType := "sqlite"
	path := DefaultSQLitePath
	if cfg != nil {
		if v := strings.TrimSpace(cfg.Storage.Type); v != "" {
			storageType = strings.ToLower(v)
		}
		if v := strings.TrimSpace(cfg.Storage.Path); v != "" {
			path = v
		}
	}

	switch storageType {
	case "sqlite":
		return NewSQLiteStore(path)
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("store: unknown storage type %q", storageType)
	}
}
