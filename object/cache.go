package object

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pilacorp/go-twin-sdk/ledger"
)

// DefaultCacheTTL is how long a cached view stays valid.
const DefaultCacheTTL = 5 * time.Minute

// Cache memoizes object views. Entries expire after a TTL and are busted by
// every ownership transfer made through the Service.
type Cache interface {
	GetView(id ledger.ObjectID) (*View, bool)
	PutView(id ledger.ObjectID, v *View) error
	BustView(id ledger.ObjectID) error
}

// MemCache is an in-process Cache backed by an expirable LRU. Views are
// evicted when the cache is full or when their TTL passes, whichever comes
// first. It is safe for concurrent use.
type MemCache struct {
	views *expirable.LRU[ledger.ObjectID, *View]
}

var _ Cache = (*MemCache)(nil)

// NewMemCache returns an LRU cache holding up to size views for ttl. A zero
// ttl uses DefaultCacheTTL.
func NewMemCache(size int, ttl time.Duration) *MemCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &MemCache{
		views: expirable.NewLRU[ledger.ObjectID, *View](size, nil, ttl),
	}
}

func (mc *MemCache) GetView(id ledger.ObjectID) (*View, bool) {
	return mc.views.Get(id)
}

func (mc *MemCache) PutView(id ledger.ObjectID, v *View) error {
	mc.views.Add(id, v)
	return nil
}

func (mc *MemCache) BustView(id ledger.ObjectID) error {
	mc.views.Remove(id)
	return nil
}
