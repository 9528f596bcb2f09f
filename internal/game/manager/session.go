package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"Garame/internal/game/engine"
	"Garame/internal/game/state"

	"github.com/charmbracelet/log"
)

type requestKind int

const (
	reqAction requestKind = iota
	reqConnection
	reqStatus
	reqTimeout
	reqBotTurn
)

type request struct {
	kind      requestKind
	action    engine.GameAction
	playerID  string
	connected bool
	status    engine.Status
	turn      int64 // timers: only valid while the state is still at this turn
	reply     chan result
}

type result struct {
	state *engine.GameState
	err   error
}

// session 单个对局的动作循环，是该对局唯一的写入者
type session struct {
	m   *GameManager
	eng engine.GameEngine
	log *log.Logger

	mu    sync.RWMutex
	state *engine.GameState

	mailbox chan request
	stopped chan struct{}
	timer   *time.Timer

	// turn clock, loop goroutine only. It restarts when the turn advances
	// or play resumes, never on same-turn writes.
	clockTurn int64
	clockSet  bool
	turnStart time.Time
}

// timerFloor keeps an overdue or failing turn from spinning the loop.
const timerFloor = 10 * time.Millisecond

func newSession(m *GameManager, gs *engine.GameState, eng engine.GameEngine) *session {
	return &session{
		m:       m,
		eng:     eng,
		log:     m.log.With("game", gs.ID),
		state:   gs,
		mailbox: make(chan request, 32), // 防止计时器阻塞
		stopped: make(chan struct{}),
	}
}

func (s *session) current() *engine.GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) set(gs *engine.GameState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = gs
}

func (s *session) run() {
	defer close(s.stopped)
	defer s.stopTimer()
	s.schedule()
	for {
		select {
		case r := <-s.mailbox:
			gs, err := s.handle(r)
			if r.reply != nil {
				r.reply <- result{state: gs, err: err}
			} else if err != nil {
				// timer-driven move failed; arm the timer again
				s.log.Error("scheduled move failed", "player", r.playerID, "err", err)
				s.schedule()
			}
			if cur := s.current(); cur.Status.Terminal() {
				s.m.drop(cur.ID)
				ctx, cancel := context.WithTimeout(s.m.ctx, storeTimeout)
				s.m.finalize(ctx, cur)
				cancel()
				s.drain()
				return
			}
		case <-s.m.ctx.Done():
			return
		}
	}
}

// drain answers requests that were queued behind the final transition.
func (s *session) drain() {
	for {
		select {
		case r := <-s.mailbox:
			if r.reply != nil {
				r.reply <- result{err: errSessionClosed}
			}
		default:
			return
		}
	}
}

func (s *session) submit(ctx context.Context, r request) (*engine.GameState, error) {
	r.reply = make(chan result, 1)
	select {
	case s.mailbox <- r:
	case <-s.stopped:
		return nil, errSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r.reply:
		return res.state, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post is for timers: fire and forget, dropped once the session is gone.
func (s *session) post(r request) {
	select {
	case s.mailbox <- r:
	case <-s.stopped:
	case <-s.m.ctx.Done():
	}
}

func (s *session) handle(r request) (*engine.GameState, error) {
	ctx, cancel := context.WithTimeout(s.m.ctx, storeTimeout)
	defer cancel()

	switch r.kind {
	case reqAction:
		return s.apply(ctx, r.action)

	case reqTimeout:
		cur := s.current()
		if cur.Turn != r.turn || cur.CurrentPlayerID != r.playerID || cur.Status != engine.StatusPlaying {
			return nil, nil
		}
		s.log.Info("turn timed out", "player", r.playerID, "turn", r.turn)
		return s.apply(ctx, engine.GameAction{Type: engine.ActionForfeit, PlayerID: r.playerID, At: s.m.now()})

	case reqBotTurn:
		cur := s.current()
		if cur.Turn != r.turn || cur.CurrentPlayerID != r.playerID || !cur.IsAI(r.playerID) {
			return nil, nil
		}
		a, err := s.m.bots.NextAction(cur, r.playerID, cur.Players[r.playerID].AIDifficulty)
		if err != nil {
			s.log.Warn("bot has no move, forfeiting", "player", r.playerID, "err", err)
			a = engine.GameAction{Type: engine.ActionForfeit, PlayerID: r.playerID}
		}
		a.At = s.m.now()
		gs, err := s.apply(ctx, a)
		if err != nil && a.Type != engine.ActionForfeit && !errors.Is(err, state.ErrConflict) {
			s.log.Warn("bot move rejected, forfeiting", "player", r.playerID, "err", err)
			return s.apply(ctx, engine.GameAction{Type: engine.ActionForfeit, PlayerID: r.playerID, At: a.At})
		}
		return gs, err

	case reqConnection:
		return s.persist(ctx, nil, func(gs *engine.GameState) (*engine.GameState, error) {
			return engine.WithConnection(gs, r.playerID, r.connected)
		})

	case reqStatus:
		at := s.m.now()
		return s.persist(ctx, nil, func(gs *engine.GameState) (*engine.GameState, error) {
			return engine.WithStatus(gs, r.status, at)
		})
	}
	return nil, nil
}

func (s *session) apply(ctx context.Context, a engine.GameAction) (*engine.GameState, error) {
	return s.persist(ctx, &a, func(gs *engine.GameState) (*engine.GameState, error) {
		return s.eng.ApplyAction(gs, a)
	})
}

// persist computes the next state from the cached one and writes it with
// a turn CAS. On conflict it re-reads once and recomputes from the fresh
// state; the stale result is discarded.
func (s *session) persist(ctx context.Context, a *engine.GameAction, step func(*engine.GameState) (*engine.GameState, error)) (*engine.GameState, error) {
	cur := s.current()
	next, err := s.write(ctx, cur, step)
	if errors.Is(err, state.ErrConflict) {
		fresh, ferr := s.m.store.FindByID(ctx, cur.ID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh == nil {
			return nil, ErrGameNotFound
		}
		s.log.Warn("state conflict, retrying", "cached", cur.Turn, "stored", fresh.Turn)
		s.set(fresh)
		cur = fresh
		next, err = s.write(ctx, cur, step)
	}
	if errors.Is(err, state.ErrTerminal) {
		// finished elsewhere; adopt it so the loop can wind down
		if fresh, ferr := s.m.store.FindByID(ctx, cur.ID); ferr == nil && fresh != nil {
			s.set(fresh)
		}
	}
	if err != nil {
		return nil, err
	}
	if next == cur {
		return cur, nil
	}
	s.set(next)
	s.announce(a)
	if !next.Status.Terminal() {
		s.schedule()
	}
	return next, nil
}

func (s *session) write(ctx context.Context, cur *engine.GameState, step func(*engine.GameState) (*engine.GameState, error)) (*engine.GameState, error) {
	next, err := step(cur)
	if err != nil {
		return nil, err
	}
	if next == cur {
		return cur, nil
	}
	next.UpdatedAt = s.m.now()
	if err := s.m.store.Update(ctx, next, cur.Turn); err != nil {
		return nil, err
	}
	return next, nil
}

// announce broadcasts the public view to the game's group, the acting
// player included.
func (s *session) announce(a *engine.GameAction) {
	hub := s.m.broadcaster()
	if hub == nil {
		return
	}
	gs := s.current()
	u := Update{GameID: gs.ID, Action: a, State: engine.NewView(gs, ""), Timestamp: s.m.now()}
	if a != nil {
		u.PlayerID = a.PlayerID
	}
	hub.BroadcastUpdate(u)
}

// schedule arms the bot or the turn timer for whoever acts now.
func (s *session) schedule() {
	s.stopTimer()
	gs := s.current()
	if gs.Status != engine.StatusPlaying || gs.CurrentPlayerID == "" {
		s.clockSet = false
		return
	}
	if !s.clockSet || s.clockTurn != gs.Turn {
		s.clockSet, s.clockTurn, s.turnStart = true, gs.Turn, s.m.now()
	}
	pid, turn := gs.CurrentPlayerID, gs.Turn
	if gs.IsAI(pid) {
		s.timer = time.AfterFunc(s.m.opts.BotDelay, func() {
			s.post(request{kind: reqBotTurn, playerID: pid, turn: turn})
		})
		return
	}
	d, ok := s.timeLeft(gs)
	if !ok {
		return
	}
	s.timer = time.AfterFunc(d, func() {
		s.post(request{kind: reqTimeout, playerID: pid, turn: turn})
	})
}

// timeLeft is what remains of the current turn, capped by the disconnect
// grace while the player is away. ok is false when turns are untimed.
func (s *session) timeLeft(gs *engine.GameState) (time.Duration, bool) {
	full := s.m.opts.TurnDuration
	if gs.Metadata.TurnSeconds > 0 {
		full = time.Duration(gs.Metadata.TurnSeconds) * time.Second
	}
	if full <= 0 {
		return 0, false
	}
	left := s.turnStart.Add(full).Sub(s.m.now())
	if p := gs.Players[gs.CurrentPlayerID]; p != nil && !p.IsConnected && s.m.opts.DisconnectGrace > 0 && s.m.opts.DisconnectGrace < left {
		left = s.m.opts.DisconnectGrace
	}
	if left < timerFloor {
		left = timerFloor
	}
	return left, true
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
