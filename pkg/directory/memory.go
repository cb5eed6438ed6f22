package directory

import (
	"context"
	"sort"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
)

// MemoryDirectory keeps advertisements in an in-process TTL cache. It backs
// the offline/LAN backend and tests.
type MemoryDirectory struct {
	records *cache.Cache[string, *Record]
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		records: cache.New[string, *Record](),
	}
}

func (d *MemoryDirectory) Advertise(_ context.Context, rec *Record, ttl time.Duration) error {
	d.records.Set(rec.ID, rec, cache.WithExpiration(ttl))
	return nil
}

func (d *MemoryDirectory) Refresh(_ context.Context, id string, ttl time.Duration) error {
	rec, ok := d.records.Get(id)
	if !ok {
		return ErrRecordNotFound
	}
	d.records.Set(id, rec, cache.WithExpiration(ttl))
	return nil
}

func (d *MemoryDirectory) Withdraw(_ context.Context, id string) error {
	d.records.Delete(id)
	return nil
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (*Record, error) {
	rec, ok := d.records.Get(id)
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (d *MemoryDirectory) List(_ context.Context, limit int64) ([]*Record, error) {
	var recs []*Record
	for _, key := range d.records.Keys() {
		if rec, ok := d.records.Get(key); ok {
			recs = append(recs, rec)
		}
	}
	// Oldest advertisement first, for a stable listing.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].AdvertisedAt.Equal(recs[j].AdvertisedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].AdvertisedAt.Before(recs[j].AdvertisedAt)
	})
	if limit > 0 && int64(len(recs)) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
