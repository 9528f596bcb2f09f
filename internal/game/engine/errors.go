package engine

import (
	"fmt"

	"Garame/internal/errs"
)

var (
	ErrUnknownGameType  = fmt.Errorf("unknown game type: %w", errs.ErrBadRequest)
	ErrPlayerCount      = fmt.Errorf("player count out of range: %w", errs.ErrInvalidState)
	ErrInvalidSeats     = fmt.Errorf("seats need unique ids and contiguous positions: %w", errs.ErrInvalidState)
	ErrStatusTransition = fmt.Errorf("status transition not allowed: %w", errs.ErrInvalidState)

	ErrNoState        = fmt.Errorf("no game state: %w", errs.ErrInvalidAction)
	ErrGameNotPlaying = fmt.Errorf("game is not in play: %w", errs.ErrInvalidAction)
	ErrNotAPlayer     = fmt.Errorf("not a player of this game: %w", errs.ErrInvalidAction)
	ErrPlayerInactive = fmt.Errorf("player has left the game: %w", errs.ErrInvalidAction)
	ErrOutOfTurn      = fmt.Errorf("action out of turn: %w", errs.ErrInvalidAction)
	ErrCardRequired   = fmt.Errorf("card is required: %w", errs.ErrInvalidAction)
	ErrCardNotInHand  = fmt.Errorf("card not in hand: %w", errs.ErrInvalidAction)
	ErrMustFollowSuit = fmt.Errorf("must follow the lead suit: %w", errs.ErrInvalidAction)
	ErrUnknownAction  = fmt.Errorf("unknown action: %w", errs.ErrInvalidAction)
)
