package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local n = tonumber(ARGV[1])
redis.call("HSET", KEYS[1], unpack(ARGV, 2, n + 1))
local exp = tonumber(ARGV[n + 2])
local now = tonumber(ARGV[n + 3])
local id = ARGV[n + 4]
redis.call("PEXPIREAT", KEYS[1], exp)
local want = exp - now
for i = 2, 3 do
  redis.call("SADD", KEYS[i], id)
  if redis.call("PTTL", KEYS[i]) < want then
    redis.call("PEXPIRE", KEYS[i], want)
  end
end
return 1
`

var createRecordLua = redis.NewScript(createRecordScript)

// swap returns 1 on success, 0 on version conflict, -1 when the child exists.
const swapRecordScript = `
local cur = redis.call("HGET", KEYS[1], "ver")
if not cur or cur ~= ARGV[1] then
  return 0
end
local n = tonumber(ARGV[2])
local idx = 3
local parent_from = idx
local parent_to = idx + n - 1
idx = idx + n
local m = tonumber(ARGV[idx])
idx = idx + 1
if m > 0 then
  if redis.call("EXISTS", KEYS[2]) == 1 then
    return -1
  end
end
redis.call("HSET", KEYS[1], unpack(ARGV, parent_from, parent_to))
if m > 0 then
  redis.call("HSET", KEYS[2], unpack(ARGV, idx, idx + m - 1))
  idx = idx + m
  local exp = tonumber(ARGV[idx])
  local now = tonumber(ARGV[idx + 1])
  local id = ARGV[idx + 2]
  redis.call("PEXPIREAT", KEYS[2], exp)
  local want = exp - now
  for i = 3, 4 do
    redis.call("SADD", KEYS[i], id)
    if redis.call("PTTL", KEYS[i]) < want then
      redis.call("PEXPIRE", KEYS[i], want)
    end
  end
end
return 1
`

var swapRecordLua = redis.NewScript(swapRecordScript)

const revokeManyScript = `
local changed = 0
for i = 1, #KEYS do
  local rvk = redis.call("HGET", KEYS[i], "rvk")
  if rvk and rvk ~= "1" then
    redis.call("HSET", KEYS[i], "rvk", "1", "rvat", ARGV[2], "rsn", ARGV[1])
    redis.call("HINCRBY", KEYS[i], "ver", 1)
    changed = changed + 1
  end
end
return changed
`

var revokeManyLua = redis.NewScript(revokeManyScript)

// RedisStore is a [Store] keeping each record in a Redis hash that expires
// with the record. Identity and lineage membership live in sets pruned
// lazily on read. Create, Swap and RevokeMany each run as one Lua script.
//
// The scripts touch several keys at once, so a Redis Cluster deployment
// needs all keys of a store on one slot; use a hash-tagged prefix such as
// "{as}".
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a RedisStore. An empty prefix defaults to "as".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *RedisStore) identityKey(identityID string) string {
	return s.prefix + ":idn:" + identityID
}

func (s *RedisStore) rootKey(rootID string) string {
	return s.prefix + ":lin:" + rootID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func millis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeFields(rec *Record) []any {
	revoked := "0"
	if rec.Revoked {
		revoked = "1"
	}
	return []any{
		"id", rec.ID,
		"idn", rec.IdentityID,
		"dev", rec.DeviceFingerprint,
		"hash", hex.EncodeToString(rec.RefreshHash[:]),
		"par", rec.ParentID,
		"root", rec.RootID,
		"gen", strconv.Itoa(rec.Generation),
		"iat", millis(rec.IssuedAt),
		"rot", millis(rec.RotatedAt),
		"exp", millis(rec.ExpiresAt),
		"rvk", revoked,
		"rvat", millis(rec.RevokedAt),
		"rsn", string(rec.RevokeReason),
		"ver", strconv.FormatInt(rec.Version, 10),
	}
}

var errCorruptRecord = errors.New("session: corrupt redis record")

func decodeFields(fields map[string]string) (*Record, error) {
	rec := &Record{
		ID:                fields["id"],
		IdentityID:        fields["idn"],
		DeviceFingerprint: fields["dev"],
		ParentID:          fields["par"],
		RootID:            fields["root"],
		IssuedAt:          fromMillis(fields["iat"]),
		RotatedAt:         fromMillis(fields["rot"]),
		ExpiresAt:         fromMillis(fields["exp"]),
		Revoked:           fields["rvk"] == "1",
		RevokedAt:         fromMillis(fields["rvat"]),
		RevokeReason:      RevokeReason(fields["rsn"]),
	}
	raw, err := hex.DecodeString(fields["hash"])
	if err != nil || len(raw) != len(rec.RefreshHash) {
		return nil, errCorruptRecord
	}
	copy(rec.RefreshHash[:], raw)
	if rec.Generation, err = strconv.Atoi(fields["gen"]); err != nil {
		return nil, errCorruptRecord
	}
	if rec.Version, err = strconv.ParseInt(fields["ver"], 10, 64); err != nil {
		return nil, errCorruptRecord
	}
	if rec.ID == "" {
		return nil, errCorruptRecord
	}
	return rec, nil
}

// Create implements [Store].
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	fields := encodeFields(rec)
	args := make([]any, 0, len(fields)+4)
	args = append(args, len(fields))
	args = append(args, fields...)
	args = append(args, rec.ExpiresAt.UnixMilli(), s.now().UnixMilli(), rec.ID)

	keys := []string{s.recordKey(rec.ID), s.identityKey(rec.IdentityID), s.rootKey(rec.RootID)}
	created, err := createRecordLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(fields)
}

// Swap implements [Store].
func (s *RedisStore) Swap(ctx context.Context, parent *Record, expectedVersion int64, child *Record) error {
	parentFields := encodeFields(parent)
	args := make([]any, 0, 2*len(parentFields)+8)
	args = append(args, strconv.FormatInt(expectedVersion, 10), len(parentFields))
	args = append(args, parentFields...)

	keys := []string{s.recordKey(parent.ID), "", "", ""}
	if child != nil {
		childFields := encodeFields(child)
		args = append(args, len(childFields))
		args = append(args, childFields...)
		args = append(args, child.ExpiresAt.UnixMilli(), s.now().UnixMilli(), child.ID)
		keys = []string{
			s.recordKey(parent.ID),
			s.recordKey(child.ID),
			s.identityKey(child.IdentityID),
			s.rootKey(child.RootID),
		}
	} else {
		args = append(args, 0)
		keys = keys[:1]
	}

	res, err := swapRecordLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrAlreadyExists
	default:
		return ErrVersionConflict
	}
}

// RevokeMany implements [Store].
func (s *RedisStore) RevokeMany(ctx context.Context, ids []string, reason RevokeReason, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	n, err := revokeManyLua.Run(ctx, s.redis, keys, string(reason), millis(at)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListByIdentity implements [Store].
func (s *RedisStore) ListByIdentity(ctx context.Context, identityID string) ([]*Record, error) {
	return s.members(ctx, s.identityKey(identityID))
}

// ListByRoot implements [Store].
func (s *RedisStore) ListByRoot(ctx context.Context, rootID string) ([]*Record, error) {
	return s.members(ctx, s.rootKey(rootID))
}

func (s *RedisStore) members(ctx context.Context, setKey string) ([]*Record, error) {
	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	out := make([]*Record, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, unavailable(err)
		}
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decodeFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	return out, nil
}

// DeleteExpired implements [Store]. Redis expires records on its own; this
// scan removes records whose ExpiresAt is before a cutoff that runs ahead of
// the server clock.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()
	removed := 0
	iter := s.redis.Scan(ctx, 0, s.prefix+":rec:*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.redis.HMGet(ctx, key, "exp", "idn", "root", "id").Result()
		if err != nil {
			return removed, unavailable(err)
		}
		expStr, _ := vals[0].(string)
		exp, err := strconv.ParseInt(expStr, 10, 64)
		if err != nil || exp >= cutoff {
			continue
		}
		identityID, _ := vals[1].(string)
		rootID, _ := vals[2].(string)
		id, _ := vals[3].(string)
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.identityKey(identityID), id)
			pipe.SRem(ctx, s.rootKey(rootID), id)
			return nil
		})
		if err != nil {
			return removed, unavailable(err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable(err)
	}
	return removed, nil
}

// Ping implements [Store].
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
