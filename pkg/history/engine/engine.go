// Package engine picks a history backend and degrades gracefully.
//
// The preference order is remote document store, then the local sqlite
// file, then process memory. Each step down is logged as a warning;
// history written during a degraded session stays in whichever tier
// accepted it.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/history/memstore"
	"github.com/google/caliban-sub000/pkg/history/nullstore"
	"github.com/google/caliban-sub000/pkg/history/pgstore"
	"github.com/google/caliban-sub000/pkg/history/sqlitestore"
)

// Config locates the storage tiers.
type Config struct {
	// URL of the preferred backend. Schemes: postgres:// (remote),
	// file: or a *.db path (local sqlite), mem:// (in-process),
	// null:// (discard).
	URL string `yaml:"url"`

	// path of the sqlite file used when the preferred backend is
	// unreachable. Empty disables the local durable tier.
	FallbackPath string `yaml:"fallbackPath"`
}

// Open dispatches on the URL scheme. Unknown schemes are an error, not
// a fallback.
func Open(ctx context.Context, url string, logger *log.Logger) (history.Storage, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "null://"):
		return nullstore.New(logger), nil
	case strings.HasPrefix(url, "mem://"):
		return memstore.New(logger), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return pgstore.Open(ctx, url, logger)
	case strings.HasPrefix(url, "file:"):
		return sqlitestore.Open(ctx, strings.TrimPrefix(url, "file:"), logger)
	case strings.HasSuffix(url, ".db"):
		return sqlitestore.Open(ctx, url, logger)
	default:
		return nil, fmt.Errorf("history storage: unsupported url: %s", url)
	}
}

// OpenWithFallback walks the tiers until one opens.
func OpenWithFallback(ctx context.Context, cfg Config, logger *log.Logger) (history.Storage, error) {
	if cfg.URL != "" {
		store, err := Open(ctx, cfg.URL, logger)
		if err == nil {
			return store, nil
		}
		logger.Printf("history storage %s is not available (%s); falling back", cfg.URL, err)
	}

	if cfg.FallbackPath != "" {
		store, err := sqlitestore.Open(ctx, cfg.FallbackPath, logger)
		if err == nil {
			logger.Printf("using local history store %s", cfg.FallbackPath)
			return store, nil
		}
		logger.Printf("local history store %s is not available (%s); falling back", cfg.FallbackPath, err)
	}

	logger.Printf("using in-memory history store; job history will not survive this session")
	return memstore.New(logger), nil
}
