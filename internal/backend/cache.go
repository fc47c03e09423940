package backend

import (
	"context"
	"log/slog"

	"github.com/longscribe/engine/internal/syncx"
)

// Handle is a loaded backend instance identified by a model key. Loading is
// expensive (seconds to tens of seconds, bounded by accelerator memory), so
// handles are cached and swapped only on key change.
type Handle interface {
	Key() string
	Release(ctx context.Context) error
}

// Loader constructs a handle for a model key.
type Loader func(ctx context.Context, key string) (Handle, error)

// Cache holds at most one loaded instance per backend kind. GetOrLoad
// returns the cached handle when its key matches; otherwise it releases the
// old handle and loads a new one. The whole release-and-load runs under the
// slot guard, preserving the at-most-one-load-in-flight guarantee.
type Cache struct {
	slots *syncx.RWGuard[map[Kind]Handle]
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{slots: syncx.NewGuard(make(map[Kind]Handle))}
}

// GetOrLoad returns the handle for (kind, key), loading it via load if the
// slot is empty or holds a different key.
func (c *Cache) GetOrLoad(ctx context.Context, kind Kind, key string, load Loader) (Handle, error) {
	result := c.slots.Update(func(slots *map[Kind]Handle) any {
		if h, ok := (*slots)[kind]; ok {
			if h.Key() == key {
				return h
			}
			slog.Info("swapping backend model", "kind", kind, "from", h.Key(), "to", key)
			if err := h.Release(ctx); err != nil {
				slog.Warn("release of cached backend failed", "kind", kind, "key", h.Key(), "error", err)
			}
			delete(*slots, kind)
		}

		h, err := load(ctx, key)
		if err != nil {
			return err
		}
		(*slots)[kind] = h
		return h
	})

	if err, ok := result.(error); ok {
		return nil, err
	}
	return result.(Handle), nil
}

// Peek returns the cached handle for kind without loading.
func (c *Cache) Peek(kind Kind) (Handle, bool) {
	h, ok := c.slots.Read(func(slots map[Kind]Handle) any {
		h, ok := slots[kind]
		if !ok {
			return nil
		}
		return h
	}).(Handle)
	return h, ok
}

// ReleaseAll releases every cached handle. Called on engine shutdown.
func (c *Cache) ReleaseAll(ctx context.Context) {
	c.slots.Write(func(slots *map[Kind]Handle) {
		for kind, h := range *slots {
			if err := h.Release(ctx); err != nil {
				slog.Warn("release on shutdown failed", "kind", kind, "key", h.Key(), "error", err)
			}
			delete(*slots, kind)
		}
	})
}
