package kv

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sakif/streakwatch/internal/kv/postgres"
	"github.com/sakif/streakwatch/internal/kv/sqlite"
)

// compile-time checks that every backend satisfies Store
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open picks a backend from the DSN scheme:
//
//	memory://                  in-process map
//	sqlite:///var/lib/x.db     SQLite file (a bare path means the same)
//	postgres://user@host/db    PostgreSQL
func Open(dsn string, quota int64) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("kv: empty store DSN")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parsing DSN: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem":
		return NewMemoryStore(quota), nil
	case "", "file", "sqlite":
		path := dsnPath(parsed, dsn)
		if path == "" {
			return nil, fmt.Errorf("kv: sqlite DSN %q has no path", dsn)
		}
		return sqlite.New(path, quota)
	case "postgres", "postgresql":
		return postgres.New(dsn, quota)
	default:
		return nil, fmt.Errorf("kv: unsupported store scheme %q", parsed.Scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return raw
	}
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	return parsed.Host + parsed.Path
}
