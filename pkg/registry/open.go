// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Backend string // memory, sqlite, badger, redis
	Path    string
	Redis   RedisOptions
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "memory":
		return NewMemoryStore()
	case "sqlite":
		path := opts.Path
		if path == "" {
			path = "file:hubnet?mode=memory&cache=shared"
		}
		return OpenSQLite(path)
	case "badger":
		return OpenBadger(opts.Path)
	case "redis":
		return OpenRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("registry: unknown backend %q", opts.Backend)
	}
}

// Seed is a table file to import into one partition.
type Seed struct {
	Path string
	Kind Kind
}

// LoadSeeds imports every seed file into store.
func LoadSeeds(ctx context.Context, store Store, seeds []Seed) error {
	for _, seed := range seeds {
		f, err := os.Open(seed.Path)
		if err != nil {
			return fmt.Errorf("registry: open seed %s: %w", seed.Path, err)
		}
		n, err := Import(ctx, store, f, seed.Kind)
		_ = f.Close()
		if err != nil {
			return err
		}
		slog.Info("registry.seed.loaded", slog.String("path", seed.Path), slog.String("kind", string(seed.Kind)), slog.Int("added", n))
	}
	return nil
}
