package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	createStatusCreated       int64 = 0
	createStatusDuplicate     int64 = 1
	createStatusFamilyRevoked int64 = 2

	casStatusNotFound int64 = 0
	casStatusConflict int64 = 1
	casStatusApplied  int64 = 2
)

const createRecordScript = `
if redis.call("EXISTS", KEYS[5]) == 1 then
  return 2
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 1
end
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 1
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "ver", ARGV[3], "hash", ARGV[4], "family", ARGV[5], "user", ARGV[6])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("SADD", KEYS[4], ARGV[1])
return 0
`

var createRecordLua = redis.NewScript(createRecordScript)

const compareAndSwapScript = `
local current = redis.call("HGET", KEYS[1], "ver")
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end
redis.call("HSET", KEYS[1], "data", ARGV[3], "ver", ARGV[2])
return 2
`

var compareAndSwapLua = redis.NewScript(compareAndSwapScript)

// deleteRecordScript removes a record and its index entries. The index keys
// are derived from the fields the caller read; a record whose fields no
// longer match is treated as a conflict.
const deleteRecordScript = `
local vals = redis.call("HMGET", KEYS[1], "ver", "hash", "family", "user")
if not vals[1] then
  return 0
end
if vals[1] ~= ARGV[1] or vals[2] ~= ARGV[3] or vals[3] ~= ARGV[4] or vals[4] ~= ARGV[5] then
  return 1
end
redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[2] then
  redis.call("DEL", KEYS[2])
end
redis.call("SREM", KEYS[3], ARGV[2])
redis.call("SREM", KEYS[4], ARGV[2])
return 2
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

// RedisStore keeps each record in a hash at {prefix}:rt:{id} holding the
// encoded blob and its version, with secondary indexes for token hash,
// family and user. Family revocation markers live at {prefix}:rtx:{family}
// and expire after markerTTL.
//
// Records carry no TTL; the cleanup sweeper owns deletion.
//
// Every script declares the keys it touches, but one record's keys span
// several hash slots. Use a standalone, sentinel or failover client; Redis
// Cluster rejects the scripts with CROSSSLOT.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	markerTTL time.Duration
}

// NewRedisStore creates a [RedisStore]. A zero markerTTL keeps family markers
// until they are deleted explicitly.
func NewRedisStore(client redis.UniversalClient, prefix string, markerTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "gt"
	}
	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		markerTTL: markerTTL,
	}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":rt:" + id
}

func (s *RedisStore) hashKey(tokenHash string) string {
	return s.prefix + ":rth:" + tokenHash
}

func (s *RedisStore) familyKey(family string) string {
	return s.prefix + ":rtf:" + family
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":rtu:" + userID
}

func (s *RedisStore) markerKey(family string) string {
	return s.prefix + ":rtx:" + family
}

// Create implements [Store].
func (s *RedisStore) Create(ctx context.Context, r Record) error {
	if r.ID == "" || r.TokenHash == "" {
		return errors.New("record id and token hash required")
	}
	data, err := Encode(r)
	if err != nil {
		return err
	}

	status, err := createRecordLua.Run(
		ctx,
		s.redis,
		[]string{
			s.recordKey(r.ID),
			s.hashKey(r.TokenHash),
			s.familyKey(r.TokenFamily),
			s.userKey(r.UserID),
			s.markerKey(r.TokenFamily),
		},
		r.ID,
		data,
		strconv.FormatInt(r.Version, 10),
		r.TokenHash,
		r.TokenFamily,
		r.UserID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case createStatusCreated:
		return nil
	case createStatusDuplicate:
		return ErrDuplicate
	case createStatusFamilyRevoked:
		return ErrFamilyRevoked
	default:
		return fmt.Errorf("%w: unexpected create status %d", ErrStoreUnavailable, status)
	}
}

// GetByID implements [Store].
func (s *RedisStore) GetByID(ctx context.Context, id string) (Record, error) {
	vals, err := s.redis.HMGet(ctx, s.recordKey(id), "data", "ver").Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeHashFields(vals)
}

// GetByHash implements [Store].
func (s *RedisStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	id, err := s.redis.Get(ctx, s.hashKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r, err := s.GetByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if r.TokenHash != tokenHash {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// ListByFamily implements [Store].
func (s *RedisStore) ListByFamily(ctx context.Context, family string) ([]Record, error) {
	return s.listIndex(ctx, s.familyKey(family))
}

// ListByUser implements [Store].
func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	return s.listIndex(ctx, s.userKey(userID))
}

func (s *RedisStore) listIndex(ctx context.Context, indexKey string) ([]Record, error) {
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	return s.loadMany(ctx, keys)
}

func (s *RedisStore) loadMany(ctx context.Context, keys []string) ([]Record, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, key, "data", "ver")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Record, 0, len(keys))
	for _, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		r, err := decodeHashFields(vals)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// index entry outlived its record
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CompareAndSwap implements [Store].
func (s *RedisStore) CompareAndSwap(ctx context.Context, next Record, expectedVersion int64) error {
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("next version %d does not follow %d", next.Version, expectedVersion)
	}
	data, err := Encode(next)
	if err != nil {
		return err
	}

	status, err := compareAndSwapLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(next.ID)},
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatInt(next.Version, 10),
		data,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return casStatusError(status)
}

// Delete implements [Store].
func (s *RedisStore) Delete(ctx context.Context, id string, expectedVersion int64) error {
	fields, err := s.redis.HMGet(ctx, s.recordKey(id), "hash", "family", "user").Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) != 3 || fields[0] == nil || fields[1] == nil || fields[2] == nil {
		return ErrNotFound
	}
	tokenHash, _ := fields[0].(string)
	family, _ := fields[1].(string)
	userID, _ := fields[2].(string)

	status, err := deleteRecordLua.Run(
		ctx,
		s.redis,
		[]string{
			s.recordKey(id),
			s.hashKey(tokenHash),
			s.familyKey(family),
			s.userKey(userID),
		},
		strconv.FormatInt(expectedVersion, 10),
		id,
		tokenHash,
		family,
		userID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return casStatusError(status)
}

// Scan implements [Store] with SCAN over the record key space.
func (s *RedisStore) Scan(ctx context.Context, cursor string, count int) ([]Record, string, error) {
	var c uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid scan cursor %q", cursor)
		}
		c = parsed
	}
	if count <= 0 {
		count = 100
	}

	keys, nextCursor, err := s.redis.Scan(ctx, c, s.prefix+":rt:*", int64(count)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var records []Record
	if len(keys) > 0 {
		records, err = s.loadMany(ctx, keys)
		if err != nil {
			return nil, "", err
		}
	}

	if nextCursor == 0 {
		return records, "", nil
	}
	return records, strconv.FormatUint(nextCursor, 10), nil
}

// Ping implements [Pinger].
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

// MarkFamilyRevoked implements [Store].
func (s *RedisStore) MarkFamilyRevoked(ctx context.Context, family string, at time.Time) error {
	if err := s.redis.Set(ctx, s.markerKey(family), at.UnixMilli(), s.markerTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PruneFamilyMarkers is a no-op; markers expire by TTL.
func (s *RedisStore) PruneFamilyMarkers(context.Context, time.Time) (int, error) {
	return 0, nil
}

// FamilyRevoked reports whether a revocation marker exists for family.
func (s *RedisStore) FamilyRevoked(ctx context.Context, family string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.markerKey(family)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func casStatusError(status int64) error {
	switch status {
	case casStatusApplied:
		return nil
	case casStatusConflict:
		return ErrConflict
	case casStatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrStoreUnavailable, status)
	}
}

func decodeHashFields(vals []interface{}) (Record, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Record{}, ErrNotFound
	}

	data, ok := vals[0].(string)
	if !ok {
		return Record{}, ErrCorruptRecord
	}
	verStr, ok := vals[1].(string)
	if !ok {
		return Record{}, ErrCorruptRecord
	}
	ver, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return Record{}, ErrCorruptRecord
	}

	r, err := Decode([]byte(data))
	if err != nil {
		return Record{}, err
	}
	r.Version = ver
	return r, nil
}
