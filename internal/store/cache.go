package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"launchforge/internal/logging"
)

// cacheTTL bounds how long a cached read may be served without revalidation.
const cacheTTL = 5 * time.Minute

type cachedFile struct {
	Content string `json:"content"`
	Version string `json:"version"`
}

// CachedStore is a read-through cache in front of a FileStore. It is an
// optimization only: every successful write invalidates the cached entry,
// and a detected conflict drops the entry so stale content is never served
// across it.
type CachedStore struct {
	inner  FileStore
	rdb    *redis.Client
	prefix string
}

// NewCached wraps fs with a Redis read-through cache. A nil client returns
// the inner store unchanged.
func NewCached(fs FileStore, rdb *redis.Client, prefix string) FileStore {
	if rdb == nil {
		return fs
	}
	return &CachedStore{inner: fs, rdb: rdb, prefix: prefix}
}

func (c *CachedStore) key(path string) string {
	return fmt.Sprintf("fs:%s:%s", c.prefix, path)
}

func (c *CachedStore) Read(ctx context.Context, path string) (string, string, error) {
	if raw, err := c.rdb.Get(ctx, c.key(path)).Result(); err == nil {
		var f cachedFile
		if json.Unmarshal([]byte(raw), &f) == nil {
			return f.Content, f.Version, nil
		}
	}

	content, version, err := c.inner.Read(ctx, path)
	if err != nil {
		return "", "", err
	}
	if raw, err := json.Marshal(cachedFile{Content: content, Version: version}); err == nil {
		if err := c.rdb.Set(ctx, c.key(path), raw, cacheTTL).Err(); err != nil {
			logging.S().Debugw("file cache set failed", "path", path, "error", err)
		}
	}
	return content, version, nil
}

func (c *CachedStore) Write(ctx context.Context, path, content, message, expectedVersion string) (string, error) {
	version, err := c.inner.Write(ctx, path, content, message, expectedVersion)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// The cached revision is provably stale.
			c.rdb.Del(ctx, c.key(path))
		}
		return "", err
	}
	c.rdb.Del(ctx, c.key(path))
	return version, nil
}

func (c *CachedStore) List(ctx context.Context, path string) ([]Entry, error) {
	return c.inner.List(ctx, path)
}
