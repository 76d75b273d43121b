package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields of a device record in Redis.
const (
	fieldID             = "id"
	fieldName           = "name"
	fieldOwner          = "owner_id"
	fieldState          = "state"
	fieldStateUpdatedAt = "state_updated_at"
	fieldCreatedAt      = "created_at"
)

// insertScript creates the hash only if it does not exist and adds the ID
// to the index set, in one atomic step.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'owner_id', ARGV[3], 'state', ARGV[4], 'created_at', ARGV[5])
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'state_updated_at', ARGV[6])
end
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// updateStateScript overwrites state only for an existing hash.
var updateStateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'state_updated_at', ARGV[2])
return 1
`)

// RedisStore implements Store with one hash per device plus an index set
// of IDs:
//
//	{prefix}:device:{id}  hash
//	{prefix}:devices      set of ids
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "homelink"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) deviceKey(id string) string {
	return s.prefix + ":device:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":devices"
}

// Find implements Store.
func (s *RedisStore) Find(ctx context.Context, id string) (*Device, error) {
	fields, err := s.rdb.HGetAll(ctx, s.deviceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading device %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrDeviceNotFound
	}
	return deviceFromHash(fields)
}

// Insert implements Store.
func (s *RedisStore) Insert(ctx context.Context, d *Device) error {
	var updatedAt string
	if d.StateUpdatedAt != nil {
		updatedAt = d.StateUpdatedAt.UTC().Format(timeLayout)
	}

	created, err := insertScript.Run(ctx, s.rdb,
		[]string{s.deviceKey(d.ID), s.indexKey()},
		d.ID, d.Name, d.OwnerID, string(d.State), d.CreatedAt.UTC().Format(timeLayout), updatedAt,
	).Int()
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", d.ID, err)
	}
	if created == 0 {
		return ErrDeviceExists
	}
	return nil
}

// UpdateState implements Store.
func (s *RedisStore) UpdateState(ctx context.Context, id string, state State, at time.Time) error {
	updated, err := updateStateScript.Run(ctx, s.rdb,
		[]string{s.deviceKey(id)},
		string(state), at.UTC().Format(timeLayout),
	).Int()
	if err != nil {
		return fmt.Errorf("updating state of %s: %w", id, err)
	}
	if updated == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// List implements Store. IDs in the index whose hash has vanished are skipped.
func (s *RedisStore) List(ctx context.Context) ([]Device, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing device ids: %w", err)
	}
	sort.Strings(ids)

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.deviceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading devices: %w", err)
	}

	devices := make([]Device, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		d, err := deviceFromHash(fields)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func deviceFromHash(fields map[string]string) (*Device, error) {
	d := &Device{
		ID:      fields[fieldID],
		Name:    fields[fieldName],
		OwnerID: fields[fieldOwner],
		State:   State(fields[fieldState]),
	}

	created, err := time.Parse(timeLayout, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", d.ID, err)
	}
	d.CreatedAt = created

	if v := fields[fieldStateUpdatedAt]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("parsing state_updated_at of %s: %w", d.ID, err)
		}
		d.StateUpdatedAt = &t
	}
	return d, nil
}
