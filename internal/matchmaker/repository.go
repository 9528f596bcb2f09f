package matchmaker

import "context"

// Repo 定义房间存储的抽象操作
type Repo interface {
	// Create 保存新房间，Version 置为 1；id 已存在返回 ErrRoomExists
	Create(ctx context.Context, room *Room) error
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, id string) (*Room, error)
	// Save 以 expectedVersion 做 CAS，成功后 room.Version = expectedVersion+1
	Save(ctx context.Context, room *Room, expectedVersion int64) error
	// ListByStatus 按创建时间排序
	ListByStatus(ctx context.Context, status RoomStatus) ([]*Room, error)
	// UserRoom 返回玩家当前所在的未结束房间，没有时返回 ""
	UserRoom(ctx context.Context, userID string) (string, error)
}
