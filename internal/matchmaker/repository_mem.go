package matchmaker

import (
	"context"
	"sort"
	"sync"
)

type memRepo struct {
	mu    sync.Mutex
	rooms map[string]*Room
	users map[string]string // userID -> open roomID
}

func NewMemoryRepo() Repo {
	return &memRepo{
		rooms: make(map[string]*Room),
		users: make(map[string]string),
	}
}

func (m *memRepo) Create(ctx context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; ok {
		return ErrRoomExists
	}
	if err := m.seatedElsewhere(room); err != nil {
		return err
	}
	room.Version = 1
	m.rooms[room.ID] = room.Clone()
	m.index(nil, room)
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id].Clone(), nil
}

func (m *memRepo) Save(ctx context.Context, room *Room, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if old.Version != expectedVersion {
		return ErrVersion
	}
	if err := m.seatedElsewhere(room); err != nil {
		return err
	}
	room.Version = expectedVersion + 1
	m.rooms[room.ID] = room.Clone()
	m.index(old, room)
	return nil
}

// seatedElsewhere 一人只能坐一个未结束的房间
func (m *memRepo) seatedElsewhere(room *Room) error {
	if !room.Status.Open() {
		return nil
	}
	for _, id := range room.Humans() {
		if cur, ok := m.users[id]; ok && cur != room.ID {
			return ErrAlreadyInRoom
		}
	}
	return nil
}

// index 与 Redis 版的 mm:playerRoom 行为对齐
func (m *memRepo) index(old, room *Room) {
	if old != nil {
		for _, id := range old.Humans() {
			if m.users[id] == room.ID {
				delete(m.users, id)
			}
		}
	}
	if room.Status.Open() {
		for _, id := range room.Humans() {
			m.users[id] = room.ID
		}
	}
}

func (m *memRepo) ListByStatus(ctx context.Context, status RoomStatus) ([]*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Room{}
	for _, r := range m.rooms {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sortRooms(out)
	return out, nil
}

func (m *memRepo) UserRoom(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID], nil
}

func sortRooms(rooms []*Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
}
