package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisRepo struct {
	rdb *redis.Client
}

func NewRedisRepo(rdb *redis.Client) Repo {
	return &redisRepo{rdb: rdb}
}

// key 约定：
//
//	kv : mm:room:{roomID}          -> Room JSON
//	set: mm:rooms:{status}         -> Set(roomID,...)
//	kv : mm:playerRoom:{userID}    -> roomID（仅未结束的房间，防止一人多桌）
func roomKey(id string) string {
	return fmt.Sprintf("mm:room:%s", id)
}
func statusKey(status RoomStatus) string {
	return fmt.Sprintf("mm:rooms:%s", status)
}
func playerRoomKey(userID string) string {
	return fmt.Sprintf("mm:playerRoom:%s", userID)
}

func (r *redisRepo) Create(ctx context.Context, room *Room) error {
	key := roomKey(room.ID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRoomExists
		}
		if err := seatedElsewhere(ctx, tx, room); err != nil {
			return err
		}
		room.Version = 1
		data, _ := json.Marshal(room)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			p.SAdd(ctx, statusKey(room.Status), room.ID)
			indexPlayers(ctx, p, nil, room)
			return nil
		})
		return err
	}, watchKeys(room)...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersion
	}
	return err
}

// watchKeys 房间 key 加上所有真人的 mm:playerRoom，座位检查和写入在同一个事务里
func watchKeys(room *Room) []string {
	keys := []string{roomKey(room.ID)}
	for _, id := range room.Humans() {
		keys = append(keys, playerRoomKey(id))
	}
	return keys
}

func seatedElsewhere(ctx context.Context, tx *redis.Tx, room *Room) error {
	if !room.Status.Open() {
		return nil
	}
	for _, id := range room.Humans() {
		cur, err := tx.Get(ctx, playerRoomKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		if cur != room.ID {
			return ErrAlreadyInRoom
		}
	}
	return nil
}

func (r *redisRepo) Get(ctx context.Context, id string) (*Room, error) {
	return getRoom(ctx, r.rdb, id)
}

func getRoom(ctx context.Context, c redis.Cmdable, id string) (*Room, error) {
	data, err := c.Get(ctx, roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &room, nil
}

// Save 用 WATCH/MULTI 做乐观锁：版本不符或 key 被并发修改都返回 ErrVersion
func (r *redisRepo) Save(ctx context.Context, room *Room, expectedVersion int64) error {
	key := roomKey(room.ID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		old, err := getRoom(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		if old == nil {
			return ErrRoomNotFound
		}
		if old.Version != expectedVersion {
			return ErrVersion
		}
		if err := seatedElsewhere(ctx, tx, room); err != nil {
			return err
		}
		next := room.Clone()
		next.Version = expectedVersion + 1
		data, _ := json.Marshal(next)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			if old.Status != next.Status {
				p.SRem(ctx, statusKey(old.Status), next.ID)
				p.SAdd(ctx, statusKey(next.Status), next.ID)
			}
			indexPlayers(ctx, p, old, next)
			return nil
		})
		if err == nil {
			room.Version = next.Version
		}
		return err
	}, watchKeys(room)...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersion
	}
	return err
}

func indexPlayers(ctx context.Context, p redis.Pipeliner, old, room *Room) {
	keep := map[string]bool{}
	if room.Status.Open() {
		for _, id := range room.Humans() {
			keep[id] = true
			p.Set(ctx, playerRoomKey(id), room.ID, 0)
		}
	}
	if old != nil {
		for _, id := range old.Humans() {
			if !keep[id] {
				p.Del(ctx, playerRoomKey(id))
			}
		}
	}
}

func (r *redisRepo) ListByStatus(ctx context.Context, status RoomStatus) ([]*Room, error) {
	ids, err := r.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if room != nil && room.Status == status {
			out = append(out, room)
		}
	}
	sortRooms(out)
	return out, nil
}

func (r *redisRepo) UserRoom(ctx context.Context, userID string) (string, error) {
	val, err := r.rdb.Get(ctx, playerRoomKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
