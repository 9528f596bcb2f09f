package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"Garame/internal/game/engine"
)

type memStore struct {
	mu     sync.RWMutex
	states map[string]*engine.GameState
	rooms  map[string]string // roomID -> gameID
}

// NewMemoryStore 内存版，仅供测试和单机运行
func NewMemoryStore() Store {
	return &memStore{
		states: make(map[string]*engine.GameState),
		rooms:  make(map[string]string),
	}
}

func (m *memStore) Create(ctx context.Context, s *engine.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[s.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.rooms[s.RoomID]; ok {
		return ErrAlreadyExists
	}
	m.states[s.ID] = s.Clone()
	m.rooms[s.RoomID] = s.ID
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*engine.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id].Clone(), nil
}

func (m *memStore) FindByRoomID(ctx context.Context, roomID string) (*engine.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return m.states[id].Clone(), nil
}

func (m *memStore) Update(ctx context.Context, s *engine.GameState, expectedTurn int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.states[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return ErrTerminal
	}
	if cur.Turn != expectedTurn || s.Turn < expectedTurn {
		return ErrConflict
	}
	m.states[s.ID] = s.Clone()
	return nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, status engine.Status, at time.Time) error {
	return updateStatus(ctx, m, id, status, at)
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[id]; ok {
		delete(m.rooms, s.RoomID)
		delete(m.states, id)
	}
	return nil
}

func (m *memStore) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*engine.GameState{}
	for _, s := range m.states {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
