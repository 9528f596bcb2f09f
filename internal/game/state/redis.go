package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"Garame/internal/game/engine"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

// key 约定：
//
//	hash: gs:{id}              -> turn, status, room, data(JSON)
//	kv  : gs:room:{roomID}     -> gameID
//	set : gs:status:{status}   -> Set(gameID,...)
func stateKey(id string) string {
	return fmt.Sprintf("gs:%s", id)
}
func roomKey(roomID string) string {
	return fmt.Sprintf("gs:room:%s", roomID)
}
func statusKey(status engine.Status) string {
	return fmt.Sprintf("gs:status:%s", status)
}

// statusKeys 按 allStatuses 顺序排列，脚本里用下标定位
func statusKeys() []string {
	keys := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		keys[i] = statusKey(s)
	}
	return keys
}

func statusIndex(status engine.Status) int {
	for i, s := range allStatuses {
		if s == status {
			return i
		}
	}
	return -1
}

// KEYS[1] = stateKey, KEYS[2] = roomKey, KEYS[3] = statusKey
// ARGV[1] = id, ARGV[2] = turn, ARGV[3] = status, ARGV[4] = roomID, ARGV[5] = data
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "turn", ARGV[2], "status", ARGV[3], "room", ARGV[4], "data", ARGV[5])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// KEYS[1] = stateKey, KEYS[2..] = status sets
// ARGV[1] = expected turn, ARGV[2] = new turn, ARGV[3] = new status,
// ARGV[4] = data, ARGV[5] = id, ARGV[6] = KEYS index of the new status set
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
local old = redis.call("HGET", KEYS[1], "status")
if old == "finished" or old == "abandoned" then
    return -3
end
if redis.call("HGET", KEYS[1], "turn") ~= ARGV[1] then
    return -2
end
redis.call("HSET", KEYS[1], "turn", ARGV[2], "status", ARGV[3], "data", ARGV[4])
for i = 2, #KEYS do
    redis.call("SREM", KEYS[i], ARGV[5])
end
redis.call("SADD", KEYS[tonumber(ARGV[6])], ARGV[5])
return 1
`)

// KEYS[1] = stateKey, KEYS[2..] = status sets; ARGV[1] = id, ARGV[2] = room key prefix
var deleteScript = redis.NewScript(`
local room = redis.call("HGET", KEYS[1], "room")
if room then
    redis.call("DEL", ARGV[2] .. room)
end
redis.call("DEL", KEYS[1])
for i = 2, #KEYS do
    redis.call("SREM", KEYS[i], ARGV[1])
end
return 1
`)

func (r *redisStore) Create(ctx context.Context, s *engine.GameState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	keys := []string{stateKey(s.ID), roomKey(s.RoomID), statusKey(s.Status)}
	n, err := createScript.Run(ctx, r.rdb, keys, s.ID, s.Turn, string(s.Status), s.RoomID, data).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *redisStore) FindByID(ctx context.Context, id string) (*engine.GameState, error) {
	data, err := r.rdb.HGet(ctx, stateKey(id), "data").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s engine.GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode game state %s: %w", id, err)
	}
	return &s, nil
}

func (r *redisStore) FindByRoomID(ctx context.Context, roomID string) (*engine.GameState, error) {
	id, err := r.rdb.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *redisStore) Update(ctx context.Context, s *engine.GameState, expectedTurn int64) error {
	if s.Turn < expectedTurn {
		return ErrConflict
	}
	idx := statusIndex(s.Status)
	if idx < 0 {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	keys := append([]string{stateKey(s.ID)}, statusKeys()...)
	n, err := updateScript.Run(ctx, r.rdb, keys,
		strconv.FormatInt(expectedTurn, 10), s.Turn, string(s.Status), data, s.ID, idx+2).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return ErrNotFound
	case -2:
		return ErrConflict
	case -3:
		return ErrTerminal
	}
	return nil
}

func (r *redisStore) UpdateStatus(ctx context.Context, id string, status engine.Status, at time.Time) error {
	return updateStatus(ctx, r, id, status, at)
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	keys := append([]string{stateKey(id)}, statusKeys()...)
	return deleteScript.Run(ctx, r.rdb, keys, id, "gs:room:").Err()
}

func (r *redisStore) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameState, error) {
	ids, err := r.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]*engine.GameState, 0, len(ids))
	for _, id := range ids {
		s, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// 索引和数据之间可能短暂不一致，跳过已删除的
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}
