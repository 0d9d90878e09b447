package api

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wrenchio/workshop-backend/internal/storage"
)

// orgCache caches organization display records (name, address, phone) with a
// short TTL. Display data only; authorization decisions never read from it.
type orgCache struct {
	lru   *expirable.LRU[string, storage.Organization]
	group singleflight.Group
	store storage.Store
}

func newOrgCache(store storage.Store, size int, ttl time.Duration) *orgCache {
	return &orgCache{
		lru:   expirable.NewLRU[string, storage.Organization](size, nil, ttl),
		store: store,
	}
}

// get returns the organization, from cache when fresh. Concurrent misses for
// the same id collapse into a single store query. nil means the organization
// does not exist.
func (c *orgCache) get(ctx context.Context, id string) (*storage.Organization, error) {
	if org, ok := c.lru.Get(id); ok {
		return &org, nil
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		org, err := c.store.GetOrganization(ctx, id)
		if err != nil {
			return nil, err
		}
		if org != nil {
			c.lru.Add(id, *org)
		}
		return org, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Organization), nil
}

// invalidate drops the cached entry after a write.
func (c *orgCache) invalidate(id string) {
	c.lru.Remove(id)
}
