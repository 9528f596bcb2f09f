package state

import (
	"context"
	"fmt"
	"time"

	"Garame/internal/errs"
	"Garame/internal/game/engine"
)

var (
	ErrAlreadyExists = fmt.Errorf("game state already exists: %w", errs.ErrAlreadyExists)
	ErrNotFound      = fmt.Errorf("game state not found: %w", errs.ErrNotFound)
	ErrConflict      = fmt.Errorf("game state changed concurrently: %w", errs.ErrConflict)
	ErrTerminal      = fmt.Errorf("game state is final: %w", errs.ErrInvalidState)
)

// Store 持久化每个房间唯一的 GameState
type Store interface {
	// Create fails with ErrAlreadyExists when the id or the room already has a state.
	Create(ctx context.Context, s *engine.GameState) error
	// FindByID returns nil, nil when absent.
	FindByID(ctx context.Context, id string) (*engine.GameState, error)
	// FindByRoomID returns nil, nil when absent.
	FindByRoomID(ctx context.Context, roomID string) (*engine.GameState, error)
	// Update replaces the state if the stored turn still equals expectedTurn.
	Update(ctx context.Context, s *engine.GameState, expectedTurn int64) error
	// UpdateStatus is an administrative transition; same status is a no-op.
	UpdateStatus(ctx context.Context, id string, status engine.Status, at time.Time) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameState, error)
}

// updateStatus is shared by the implementations: read, transition, CAS.
func updateStatus(ctx context.Context, st Store, id string, status engine.Status, at time.Time) error {
	cur, err := st.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	next, err := engine.WithStatus(cur, status, at)
	if err != nil {
		return err
	}
	if next == cur {
		return nil
	}
	next.UpdatedAt = at
	return st.Update(ctx, next, cur.Turn)
}

var allStatuses = []engine.Status{
	engine.StatusPlaying,
	engine.StatusPaused,
	engine.StatusFinished,
	engine.StatusAbandoned,
}
