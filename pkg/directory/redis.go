package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/dustbyte/dustlink/pkg/dlog"
)

const (
	defaultKeyPrefix    = "dustlink:session:"
	defaultKeyIndexName = "dustlink:sessions"
)

type RedisDirectory struct {
	client rueidis.Client
	opts   *redisOpts
}

type redisOpts struct {
	keyPrefix string
	indexKey  string
}

func defaultRedisOpts() *redisOpts {
	return &redisOpts{
		keyPrefix: defaultKeyPrefix,
		indexKey:  defaultKeyIndexName,
	}
}

type RedisOption interface {
	apply(opts *redisOpts)
}

type RedisOptionFunc func(opts *redisOpts)

func (f RedisOptionFunc) apply(opts *redisOpts) {
	f(opts)
}

// WithRedisKeyPrefix overrides the key namespace, for sharing one redis
// between independent deployments.
func WithRedisKeyPrefix(prefix, indexKey string) RedisOption {
	return RedisOptionFunc(func(opts *redisOpts) {
		opts.keyPrefix = prefix
		opts.indexKey = indexKey
	})
}

func NewRedisDirectory(client rueidis.Client, opts ...RedisOption) *RedisDirectory {
	ro := defaultRedisOpts()
	for _, o := range opts {
		o.apply(ro)
	}
	return &RedisDirectory{
		client: client,
		opts:   ro,
	}
}

func (d *RedisDirectory) recordKey(id string) string {
	return d.opts.keyPrefix + id
}

func (d *RedisDirectory) Advertise(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	cmds := []rueidis.Completed{
		d.client.B().Set().Key(d.recordKey(rec.ID)).Value(data).Ex(ttl).Build(),
		d.client.B().Sadd().Key(d.opts.indexKey).Member(rec.ID).Build(),
	}
	for _, resp := range d.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to advertise session record: %w", err)
		}
	}
	return nil
}

func (d *RedisDirectory) Refresh(ctx context.Context, id string, ttl time.Duration) error {
	refreshed, err := d.client.Do(ctx,
		d.client.B().Expire().Key(d.recordKey(id)).Seconds(int64(ttl.Seconds())).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to refresh session record: %w", err)
	}
	if refreshed == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (d *RedisDirectory) Withdraw(ctx context.Context, id string) error {
	cmds := []rueidis.Completed{
		d.client.B().Srem().Key(d.opts.indexKey).Member(id).Build(),
		d.client.B().Del().Key(d.recordKey(id)).Build(),
	}
	for _, resp := range d.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to withdraw session record: %w", err)
		}
	}
	return nil
}

func (d *RedisDirectory) Get(ctx context.Context, id string) (*Record, error) {
	data, err := d.client.Do(ctx, d.client.B().Get().Key(d.recordKey(id)).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (d *RedisDirectory) List(ctx context.Context, limit int64) ([]*Record, error) {
	ids, err := d.client.Do(ctx, d.client.B().Smembers().Key(d.opts.indexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}

	// One GET per key rather than a single MGET: record keys hash to
	// different slots, which multi-key commands do not allow.
	cmds := make([]rueidis.Completed, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, d.client.B().Get().Key(d.recordKey(id)).Build())
	}

	var recs []*Record
	var staleIDs []string
	for i, resp := range d.client.DoMulti(ctx, cmds...) {
		data, err := resp.ToString()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				// Record expired but its index entry survived.
				staleIDs = append(staleIDs, ids[i])
				continue
			}
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if len(staleIDs) > 0 {
		if err := d.client.Do(ctx, d.client.B().Srem().Key(d.opts.indexKey).Member(staleIDs...).Build()).Error(); err != nil {
			dlog.Warnf("failed to prune %d stale session index entries: %+v", len(staleIDs), err)
		}
	}
	return recs, nil
}

func encodeRecord(rec *Record) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session record: %w", err)
	}
	return string(b), nil
}

func decodeRecord(data string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &rec, nil
}
