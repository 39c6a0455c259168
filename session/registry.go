package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// createSessionScript drops index entries whose blob expired, evicts the least
// recently active sessions until the user is below the cap, then inserts.
// Evicted blobs are returned so the caller can revoke their token families.
const createSessionScript = `
local index_key = KEYS[1]
local session_key = KEYS[2]
local session_id = ARGV[1]
local score = ARGV[2]
local blob = ARGV[3]
local max = tonumber(ARGV[4])
local key_prefix = ARGV[5]
local ttl = tonumber(ARGV[6])

local members = redis.call("ZRANGE", index_key, 0, -1)
for _, sid in ipairs(members) do
  if redis.call("EXISTS", key_prefix .. sid) == 0 then
    redis.call("ZREM", index_key, sid)
  end
end
redis.call("ZREM", index_key, session_id)

local evicted = {}
if max > 0 then
  local count = redis.call("ZCARD", index_key)
  while count >= max do
    local oldest = redis.call("ZRANGE", index_key, 0, 0)
    if #oldest == 0 then
      break
    end
    local sid = oldest[1]
    local data = redis.call("GET", key_prefix .. sid)
    redis.call("ZREM", index_key, sid)
    redis.call("DEL", key_prefix .. sid)
    if data then
      table.insert(evicted, data)
    end
    count = count - 1
  end
end

redis.call("SET", session_key, blob, "PX", ttl)
redis.call("ZADD", index_key, score, session_id)
redis.call("PEXPIRE", index_key, ttl)
return evicted
`

var createSessionLua = redis.NewScript(createSessionScript)

// touchSessionScript bumps the activity score and extends both keys, so a
// family that keeps rotating keeps its session.
const touchSessionScript = `
if redis.call("EXISTS", KEYS[2]) == 0 then
  redis.call("ZREM", KEYS[1], ARGV[1])
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

const removeSessionScript = `
local removed = redis.call("DEL", KEYS[2])
redis.call("ZREM", KEYS[1], ARGV[1])
return removed
`

var removeSessionLua = redis.NewScript(removeSessionScript)

const clearSessionsScript = `
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local removed = 0
for _, sid in ipairs(members) do
  removed = removed + redis.call("DEL", ARGV[1] .. sid)
end
redis.call("DEL", KEYS[1])
return removed
`

var clearSessionsLua = redis.NewScript(clearSessionsScript)

// Registry tracks the device sessions of each user in Redis.
//
// Per user it keeps a sorted set of session ids scored by last activity
// (unix millis) and one encoded blob per session. Every mutation is a single
// Lua script, so concurrent logins for one user cannot exceed the cap.
//
// All keys of one user share the {userID} hash tag and land in one cluster
// slot, so the scripts that reach session blobs through the user's key prefix
// stay on one node. Both keys expire ttl after the last Create or Touch.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRegistry creates a [Registry]. ttl bounds how long an idle session is
// retained and should match the refresh-token lifetime.
func NewRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *Registry {
	if prefix == "" {
		prefix = "gt"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Registry{redis: client, prefix: prefix, ttl: ttl}
}

func (s *Registry) indexKey(userID string) string {
	return s.prefix + ":su:{" + userID + "}"
}

func (s *Registry) sessionKeyPrefix(userID string) string {
	return s.prefix + ":s:{" + userID + "}:"
}

func (s *Registry) sessionKey(userID, sessionID string) string {
	return s.sessionKeyPrefix(userID) + sessionID
}

// Create registers rec, evicting the least recently active sessions of the
// same user so that at most max remain. max <= 0 disables the cap.
//
// Re-registering an existing session id replaces it and never evicts it.
func (s *Registry) Create(ctx context.Context, rec Record, max int) ([]Record, error) {
	if rec.UserID == "" || rec.SessionID == "" {
		return nil, errors.New("session requires user and session id")
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = rec.CreatedAt
	}
	rec.IsActive = true

	blob, err := Encode(rec)
	if err != nil {
		return nil, err
	}

	result, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(rec.UserID), s.sessionKey(rec.UserID, rec.SessionID)},
		rec.SessionID,
		rec.LastActivity.UnixMilli(),
		blob,
		max,
		s.sessionKeyPrefix(rec.UserID),
		s.ttl.Milliseconds(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	evicted := make([]Record, 0, len(result))
	for _, raw := range result {
		old, decErr := Decode([]byte(raw))
		if decErr != nil {
			return evicted, decErr
		}
		old.IsActive = false
		evicted = append(evicted, old)
	}
	return evicted, nil
}

// Touch moves a session to the most recently active position and restarts
// its idle TTL.
func (s *Registry) Touch(ctx context.Context, userID, sessionID string, now time.Time) error {
	res, err := touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(userID), s.sessionKey(userID, sessionID)},
		sessionID,
		now.UnixMilli(),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes one session. It reports whether the session existed.
func (s *Registry) Remove(ctx context.Context, userID, sessionID string) (bool, error) {
	res, err := removeSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(userID), s.sessionKey(userID, sessionID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Clear deletes every session of userID and returns how many existed.
func (s *Registry) Clear(ctx context.Context, userID string) (int, error) {
	res, err := clearSessionsLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(userID)},
		s.sessionKeyPrefix(userID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(res), nil
}

// Get returns one session with its current LastActivity.
func (s *Registry) Get(ctx context.Context, userID, sessionID string) (Record, error) {
	pipe := s.redis.Pipeline()
	blobCmd := pipe.Get(ctx, s.sessionKey(userID, sessionID))
	scoreCmd := pipe.ZScore(ctx, s.indexKey(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	data, err := blobCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return Record{}, err
	}
	if score, err := scoreCmd.Result(); err == nil {
		rec.LastActivity = time.UnixMilli(int64(score))
	}
	return rec, nil
}

// List returns the live sessions of userID, most recently active first.
func (s *Registry) List(ctx context.Context, userID string) ([]Record, error) {
	entries, err := s.redis.ZRangeWithScores(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(entries) == 0 {
		return []Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, z := range entries {
		cmds[i] = pipe.Get(ctx, s.sessionKey(userID, memberString(z.Member)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Record, 0, len(entries))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		rec, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		rec.LastActivity = time.UnixMilli(int64(entries[i].Score))
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// Count returns the number of indexed sessions for userID.
func (s *Registry) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.ZCard(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping reports Redis availability and latency.
func (s *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func memberString(m interface{}) string {
	switch v := m.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
