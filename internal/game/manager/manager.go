package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"Garame/internal/errs"
	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/game/state"
	"Garame/internal/ledger"
	"Garame/internal/matchmaker"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var (
	ErrGameNotFound  = fmt.Errorf("game not found: %w", errs.ErrNotFound)
	errSessionClosed = errors.New("game session closed")
)

// storeTimeout bounds every store or ledger call made from a session loop.
const storeTimeout = 5 * time.Second

// Broadcaster 把状态变化推送给房间内的连接
type Broadcaster interface {
	BroadcastUpdate(u Update)
}

// MoveProvider 为 AI 座位选择动作
type MoveProvider interface {
	NextAction(state *engine.GameState, playerID, difficulty string) (engine.GameAction, error)
}

// Settler pays out a finished game.
type Settler interface {
	Settle(ctx context.Context, gameID string, pot int64, winners []ledger.Payee) ([]*ledger.Payout, error)
}

// Update is the game-update payload: the public view after one accepted
// transition. Action is nil for non-action changes (connection, status).
type Update struct {
	GameID    string             `json:"gameId"`
	Action    *engine.GameAction `json:"action,omitempty"`
	PlayerID  string             `json:"playerId,omitempty"`
	State     engine.View        `json:"payload"`
	Timestamp time.Time          `json:"timestamp"`
}

type Options struct {
	TurnDuration    time.Duration
	BotDelay        time.Duration
	DisconnectGrace time.Duration
}

// GameManager is the only writer of GameState: every change goes through
// a per-game session goroutine (validate, apply, persist, broadcast).
type GameManager struct {
	mu        sync.Mutex
	sessions  map[string]*session          // gameID → session
	unsettled map[string]*engine.GameState // 结算失败，等待清理任务重试

	store   state.Store
	engines *engine.Registry
	bots    MoveProvider
	settler Settler
	hub     Broadcaster
	bus     *events.Bus
	opts    Options
	log     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now  func() time.Time
	seed func() int64

	// OnGameOver 在结算之后调用，用于释放房间
	OnGameOver func(ctx context.Context, gs *engine.GameState)
}

func NewGameManager(store state.Store, engines *engine.Registry, bots MoveProvider, settler Settler,
	hub Broadcaster, bus *events.Bus, opts Options, logger *log.Logger) *GameManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &GameManager{
		sessions:  make(map[string]*session),
		unsettled: make(map[string]*engine.GameState),
		store:     store,
		engines:   engines,
		bots:      bots,
		settler:   settler,
		hub:       hub,
		bus:       bus,
		opts:      opts,
		log:       logger.WithPrefix("games"),
		ctx:       ctx,
		cancel:    cancel,
		now:       func() time.Time { return time.Now().UTC() },
		seed:      func() int64 { return rand.Int63() },
	}
}

// Close stops every session loop. Persisted state is untouched.
func (m *GameManager) Close() {
	m.cancel()
	m.wg.Wait()
}

// SetBroadcaster is for wiring: the hub needs the manager and vice versa.
func (m *GameManager) SetBroadcaster(hub Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hub = hub
}

func (m *GameManager) broadcaster() Broadcaster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub
}

// Launch creates the GameState for a starting room. A room that already
// has a state gets that state's id back.
func (m *GameManager) Launch(ctx context.Context, room *matchmaker.Room) (string, error) {
	eng, err := m.engines.Get(room.GameType)
	if err != nil {
		return "", err
	}
	if existing, err := m.store.FindByRoomID(ctx, room.ID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, nil
	}

	seats := make([]engine.Seat, len(room.Players))
	for i, p := range room.Players {
		seats[i] = engine.Seat{ID: p.ID, Name: p.Name, Position: p.Position, IsAI: p.IsAI, AIDifficulty: p.AIDifficulty}
	}
	gs, err := eng.CreateInitialState(engine.Setup{
		GameID:    uuid.NewString(),
		RoomID:    room.ID,
		Stake:     room.Stake,
		Pot:       room.TotalPot,
		Seats:     seats,
		Seed:      m.seed(),
		StartedAt: m.now(),
	})
	if err != nil {
		return "", err
	}
	gs.Metadata.TurnSeconds = room.Settings.TurnDurationSeconds

	if err := m.store.Create(ctx, gs); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			if existing, ferr := m.store.FindByRoomID(ctx, room.ID); ferr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		return "", err
	}
	m.log.Info("game launched", "game", gs.ID, "room", room.ID, "players", len(seats), "pot", gs.Pot)
	s := m.start(gs, eng)
	s.announce(nil)
	return gs.ID, nil
}

// start registers and runs a session for gs unless one already exists.
func (m *GameManager) start(gs *engine.GameState, eng engine.GameEngine) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[gs.ID]; ok {
		return s
	}
	s := newSession(m, gs, eng)
	m.sessions[gs.ID] = s
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
	}()
	return s
}

func (m *GameManager) drop(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, gameID)
}

// session returns the running session of a game, starting one from the
// store when this process has none. Terminal games have no session.
func (m *GameManager) session(ctx context.Context, gameID string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[gameID]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	gs, err := m.store.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if gs == nil {
		return nil, ErrGameNotFound
	}
	if gs.Status.Terminal() {
		return nil, engine.ErrGameNotPlaying
	}
	eng, err := m.engines.Get(gs.GameType)
	if err != nil {
		return nil, err
	}
	return m.start(gs, eng), nil
}

// lookup reads the freshest known state without starting a session.
func (m *GameManager) lookup(ctx context.Context, gameID string) (*engine.GameState, error) {
	m.mu.Lock()
	s, ok := m.sessions[gameID]
	m.mu.Unlock()
	if ok {
		return s.current(), nil
	}
	gs, err := m.store.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if gs == nil {
		return nil, ErrGameNotFound
	}
	return gs, nil
}

func (m *GameManager) submit(ctx context.Context, gameID string, r request) (*engine.GameState, error) {
	for attempt := 0; ; attempt++ {
		s, err := m.session(ctx, gameID)
		if err != nil {
			return nil, err
		}
		gs, err := s.submit(ctx, r)
		if errors.Is(err, errSessionClosed) && attempt == 0 {
			continue
		}
		if errors.Is(err, errSessionClosed) {
			return nil, engine.ErrGameNotPlaying
		}
		return gs, err
	}
}

// ProcessAction validates and applies action for its player. The service
// stamps the admission time; the client's At is ignored.
func (m *GameManager) ProcessAction(ctx context.Context, gameID string, action engine.GameAction) (*engine.GameState, error) {
	action.At = m.now()
	return m.submit(ctx, gameID, request{kind: reqAction, action: action})
}

func (m *GameManager) Forfeit(ctx context.Context, gameID, playerID string) (*engine.GameState, error) {
	return m.ProcessAction(ctx, gameID, engine.GameAction{Type: engine.ActionForfeit, PlayerID: playerID})
}

// ValidActions is empty, never nil, when the player cannot act.
func (m *GameManager) ValidActions(ctx context.Context, gameID, playerID string) ([]engine.GameAction, error) {
	gs, err := m.lookup(ctx, gameID)
	if err != nil {
		return nil, err
	}
	eng, err := m.engines.Get(gs.GameType)
	if err != nil {
		return nil, err
	}
	actions := eng.ValidActions(gs, playerID)
	if actions == nil {
		actions = []engine.GameAction{}
	}
	return actions, nil
}

// Snapshot returns the full state as seen by viewerID.
func (m *GameManager) Snapshot(ctx context.Context, gameID, viewerID string) (engine.View, error) {
	gs, err := m.lookup(ctx, gameID)
	if err != nil {
		return engine.View{}, err
	}
	return engine.NewView(gs, viewerID), nil
}

// SetConnected flips a player's connection flag. Disconnected players keep
// their seat; only their turn timer shrinks to the grace period.
func (m *GameManager) SetConnected(ctx context.Context, gameID, playerID string, connected bool) error {
	_, err := m.submit(ctx, gameID, request{kind: reqConnection, playerID: playerID, connected: connected})
	return err
}

// SetStatus is the administrative pause/resume/abandon path.
func (m *GameManager) SetStatus(ctx context.Context, gameID string, status engine.Status) (*engine.GameState, error) {
	return m.submit(ctx, gameID, request{kind: reqStatus, status: status})
}

// Recover restarts sessions for unfinished games and re-runs settlement
// for games that finished recently, in case the process died in between.
func (m *GameManager) Recover(ctx context.Context, settleWindow time.Duration) (int, error) {
	n := 0
	for _, st := range []engine.Status{engine.StatusPlaying, engine.StatusPaused} {
		states, err := m.store.ListByStatus(ctx, st)
		if err != nil {
			return n, err
		}
		for _, gs := range states {
			eng, err := m.engines.Get(gs.GameType)
			if err != nil {
				m.log.Warn("skip game with unknown type", "game", gs.ID, "type", gs.GameType)
				continue
			}
			m.start(gs, eng)
			n++
		}
	}

	cutoff := m.now().Add(-settleWindow)
	for _, st := range []engine.Status{engine.StatusFinished, engine.StatusAbandoned} {
		states, err := m.store.ListByStatus(ctx, st)
		if err != nil {
			return n, err
		}
		for _, gs := range states {
			if gs.EndedAt != nil && gs.EndedAt.After(cutoff) {
				m.finalize(ctx, gs)
			}
		}
	}
	m.log.Info("games recovered", "running", n)
	return n, nil
}

// AbandonIdle abandons unfinished games with no transition for olderThan.
func (m *GameManager) AbandonIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)
	n := 0
	for _, st := range []engine.Status{engine.StatusPlaying, engine.StatusPaused} {
		states, err := m.store.ListByStatus(ctx, st)
		if err != nil {
			return n, err
		}
		for _, gs := range states {
			if !gs.UpdatedAt.Before(cutoff) {
				continue
			}
			if _, err := m.SetStatus(ctx, gs.ID, engine.StatusAbandoned); err != nil {
				m.log.Warn("abandon idle game failed", "game", gs.ID, "err", err)
				continue
			}
			n++
		}
	}
	return n, nil
}

// finalize settles a terminal game and releases its room. Each step is
// idempotent so it may run again after a restart. A room whose game could
// not be settled stays held until RetrySettlements pays it out.
func (m *GameManager) finalize(ctx context.Context, gs *engine.GameState) {
	settleErr := m.settle(ctx, gs)
	if m.bus != nil {
		topic := events.GameFinished
		if gs.Status == engine.StatusAbandoned {
			topic = events.GameAbandoned
		}
		m.bus.Publish(events.Event{Topic: topic, RoomID: gs.RoomID, Payload: engine.NewView(gs, ""), At: m.now()})
	}
	if settleErr != nil {
		m.mu.Lock()
		m.unsettled[gs.ID] = gs.Clone()
		m.mu.Unlock()
		return
	}
	m.release(ctx, gs)
}

func (m *GameManager) settle(ctx context.Context, gs *engine.GameState) error {
	if gs.Status != engine.StatusFinished || m.settler == nil {
		return nil
	}
	payees := make([]ledger.Payee, 0, len(gs.Winners))
	for _, id := range gs.Winners {
		payees = append(payees, ledger.Payee{UserID: id, IsAI: gs.IsAI(id)})
	}
	if _, err := m.settler.Settle(ctx, gs.ID, gs.Pot, payees); err != nil {
		m.log.Error("settlement failed", "game", gs.ID, "err", err)
		return err
	}
	return nil
}

func (m *GameManager) release(ctx context.Context, gs *engine.GameState) {
	if m.OnGameOver != nil {
		m.OnGameOver(ctx, gs.Clone())
	}
}

// RetrySettlements re-runs settlement for games whose payout failed and
// releases their rooms once it succeeds. It returns how many were settled.
func (m *GameManager) RetrySettlements(ctx context.Context) (int, error) {
	m.mu.Lock()
	pending := make([]*engine.GameState, 0, len(m.unsettled))
	for _, gs := range m.unsettled {
		pending = append(pending, gs)
	}
	m.mu.Unlock()

	n := 0
	var firstErr error
	for _, gs := range pending {
		if err := m.settle(ctx, gs); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.mu.Lock()
		delete(m.unsettled, gs.ID)
		m.mu.Unlock()
		m.release(ctx, gs)
		n++
	}
	return n, firstErr
}
