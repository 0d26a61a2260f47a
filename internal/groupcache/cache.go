// Package groupcache resolves group display names, fetching each group's
// metadata once per process lifetime.
package groupcache

import (
	"context"
	"log/slog"

	"github.com/patrickmn/go-cache"
)

// NameLookup fetches the current subject of a group.
type NameLookup func(ctx context.Context, groupID string) (string, error)

// Config configures a Cache.
type Config struct {
	Lookup NameLookup
	Logger *slog.Logger
}

// Cache is an append-only group name cache. Entries never expire, so
// renames show up only after a restart. Failed lookups are not stored.
type Cache struct {
	names  *cache.Cache
	lookup NameLookup
	logger *slog.Logger
}

func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		names:  cache.New(cache.NoExpiration, 0),
		lookup: cfg.Lookup,
		logger: cfg.Logger,
	}
}

// ResolveName returns the group's display name, or groupID itself when the
// lookup fails. An empty subject resolves to groupID and is cached.
func (c *Cache) ResolveName(ctx context.Context, groupID string) string {
	if v, ok := c.names.Get(groupID); ok {
		return v.(string)
	}
	if c.lookup == nil {
		return groupID
	}

	name, err := c.lookup(ctx, groupID)
	if err != nil {
		c.logger.Warn("group metadata lookup failed", "group", groupID, "err", err)
		return groupID
	}
	if name == "" {
		name = groupID
	}
	c.names.Set(groupID, name, cache.NoExpiration)
	return name
}

// Len returns the number of cached groups.
func (c *Cache) Len() int {
	return c.names.ItemCount()
}
