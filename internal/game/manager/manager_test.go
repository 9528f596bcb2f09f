package manager

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Garame/internal/bot"
	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/game/state"
	"Garame/internal/ledger"
	"Garame/internal/matchmaker"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHub 记录广播
type mockHub struct {
	mu      sync.Mutex
	updates []Update
}

func (h *mockHub) BroadcastUpdate(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, u)
}

func (h *mockHub) all() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Update(nil), h.updates...)
}

type settleCall struct {
	gameID  string
	pot     int64
	winners []ledger.Payee
}

type mockSettler struct {
	mu    sync.Mutex
	calls []settleCall
	fail  int // 前 fail 次调用返回错误
}

func (s *mockSettler) Settle(ctx context.Context, gameID string, pot int64, winners []ledger.Payee) ([]*ledger.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, settleCall{gameID, pot, winners})
	if s.fail > 0 {
		s.fail--
		return nil, errors.New("ledger unavailable")
	}
	return nil, nil
}

func (s *mockSettler) all() []settleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settleCall(nil), s.calls...)
}

type fixture struct {
	mgr     *GameManager
	store   state.Store
	hub     *mockHub
	settler *mockSettler
	over    chan *engine.GameState
}

func newFixture(t *testing.T, store state.Store, opts Options) *fixture {
	registry := engine.NewRegistry(engine.NewGarame())
	f := &fixture{store: store, hub: &mockHub{}, settler: &mockSettler{}, over: make(chan *engine.GameState, 4)}
	f.mgr = NewGameManager(store, registry, bot.NewProvider(registry), f.settler, f.hub, events.NewBus(), opts, log.New(io.Discard))
	var seed atomic.Int64
	f.mgr.seed = func() int64 { return seed.Add(1) }
	f.mgr.OnGameOver = func(ctx context.Context, gs *engine.GameState) { f.over <- gs }
	t.Cleanup(f.mgr.Close)
	return f
}

func room(id string, players ...matchmaker.RoomPlayer) *matchmaker.Room {
	for i := range players {
		players[i].Position = i
	}
	return &matchmaker.Room{
		ID: id, GameType: engine.GameTypeGarame, Stake: 100,
		TotalPot: 100 * int64(len(players)), Status: matchmaker.RoomStarting, Players: players,
	}
}

func human(id string) matchmaker.RoomPlayer {
	return matchmaker.RoomPlayer{ID: id, Name: id, IsReady: true}
}

func ai(id, level string) matchmaker.RoomPlayer {
	return matchmaker.RoomPlayer{ID: id, Name: id, IsAI: true, AIDifficulty: level, IsReady: true}
}

func (f *fixture) launch(t *testing.T, r *matchmaker.Room) *engine.GameState {
	id, err := f.mgr.Launch(context.Background(), r)
	require.NoError(t, err)
	gs, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, gs)
	return gs
}

func (f *fixture) waitOver(t *testing.T) *engine.GameState {
	select {
	case gs := <-f.over:
		return gs
	case <-time.After(3 * time.Second):
		t.Fatal("game did not end")
		return nil
	}
}

func firstPlay(t *testing.T, f *fixture, gameID, playerID string) engine.GameAction {
	actions, err := f.mgr.ValidActions(context.Background(), gameID, playerID)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	require.Equal(t, engine.ActionPlayCard, actions[0].Type)
	return actions[0]
}

func TestLaunchIsIdempotentPerRoom(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	r := room("room-1", human("a"), human("b"))
	gs := f.launch(t, r)
	assert.Equal(t, engine.StatusPlaying, gs.Status)
	assert.Equal(t, int64(200), gs.Pot)
	assert.Equal(t, "b", gs.CurrentPlayerID)

	again, err := f.mgr.Launch(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, gs.ID, again)

	updates := f.hub.all()
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].Action)
	for _, p := range updates[0].State.Players {
		assert.Empty(t, p.Hand)
	}
}

func TestProcessActionAdvancesAndBroadcasts(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	gs := f.launch(t, room("room-1", human("a"), human("b")))
	ctx := context.Background()

	a := firstPlay(t, f, gs.ID, "b")
	_, err := f.mgr.ProcessAction(ctx, gs.ID, engine.GameAction{Type: engine.ActionPlayCard, PlayerID: "a", Card: a.Card})
	assert.ErrorIs(t, err, engine.ErrOutOfTurn)

	next, err := f.mgr.ProcessAction(ctx, gs.ID, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Turn)
	assert.Equal(t, "a", next.CurrentPlayerID)
	assert.False(t, next.UpdatedAt.IsZero())

	stored, err := f.store.FindByID(ctx, gs.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Turn, stored.Turn)

	updates := f.hub.all()
	last := updates[len(updates)-1]
	require.NotNil(t, last.Action)
	assert.Equal(t, "b", last.PlayerID)
	assert.Equal(t, int64(1), last.State.Turn)

	view, err := f.mgr.Snapshot(ctx, gs.ID, "a")
	require.NoError(t, err)
	for _, p := range view.Players {
		if p.ID == "a" {
			assert.Len(t, p.Hand, 5)
		} else {
			assert.Empty(t, p.Hand)
			assert.Equal(t, 4, p.HandCount)
		}
	}

	_, err = f.mgr.ProcessAction(ctx, "missing", a)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestConcurrentActionsOnlyOneApplies(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	gs := f.launch(t, room("room-1", human("a"), human("b"), human("c")))
	a := firstPlay(t, f, gs.ID, gs.CurrentPlayerID)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.ProcessAction(context.Background(), gs.ID, a); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())

	stored, err := f.store.FindByID(context.Background(), gs.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Turn)
}

func TestConflictIsRetriedOnceFromFreshState(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	ctx := context.Background()
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	// 另一个进程先写入了一步
	g := engine.NewGarame()
	a := firstPlay(t, f, gs.ID, gs.CurrentPlayerID)
	a.At = time.Now()
	external, err := g.ApplyAction(gs, a)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(ctx, external, gs.Turn))

	// 缓存状态落后一步：第一次写入冲突，重读后重新校验
	next, err := f.mgr.Forfeit(ctx, gs.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Turn)
	assert.Equal(t, "b", next.WinnerID)
	require.Len(t, next.Metadata.Table, 1)
	assert.Equal(t, *a.Card, next.Metadata.Table[0].Card)
}

func TestAIGamePlaysToTheEndAndSettles(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	gs := f.launch(t, room("room-ai", ai("ai:1", bot.DifficultyEasy), ai("ai:2", bot.DifficultyHard), ai("ai:3", "")))

	over := f.waitOver(t)
	assert.Equal(t, gs.ID, over.ID)
	assert.Equal(t, engine.StatusFinished, over.Status)
	assert.Equal(t, int64(15), over.Turn)
	require.Len(t, over.Winners, 1)

	calls := f.settler.all()
	require.Len(t, calls, 1)
	assert.Equal(t, gs.ID, calls[0].gameID)
	assert.Equal(t, int64(300), calls[0].pot)
	assert.Equal(t, []ledger.Payee{{UserID: over.WinnerID, IsAI: true}}, calls[0].winners)

	_, err := f.mgr.ProcessAction(context.Background(), gs.ID, engine.GameAction{Type: engine.ActionForfeit, PlayerID: "ai:1"})
	assert.ErrorIs(t, err, engine.ErrGameNotPlaying)
}

func TestHumanForfeitAgainstBotEndsGame(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{BotDelay: time.Millisecond})
	gs := f.launch(t, room("room-1", human("a"), ai("ai:1", bot.DifficultyMedium)))

	_, err := f.mgr.Forfeit(context.Background(), gs.ID, "a")
	require.NoError(t, err)
	over := f.waitOver(t)
	assert.Equal(t, "ai:1", over.WinnerID)
}

func TestTurnTimeoutForfeitsStalledPlayer(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{TurnDuration: 20 * time.Millisecond})
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	over := f.waitOver(t)
	assert.Equal(t, engine.StatusFinished, over.Status)
	assert.True(t, over.Players[gs.CurrentPlayerID].HasFolded)
	assert.Equal(t, "a", over.WinnerID)
	require.Len(t, f.settler.all(), 1)
}

func TestDisconnectShortensTurnToGrace(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{TurnDuration: time.Hour, DisconnectGrace: 20 * time.Millisecond})
	ctx := context.Background()
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	// a 不在当前回合，断线不影响计时
	require.NoError(t, f.mgr.SetConnected(ctx, gs.ID, "a", false))
	select {
	case <-f.over:
		t.Fatal("game ended without a stalled turn")
	case <-time.After(60 * time.Millisecond):
	}

	require.NoError(t, f.mgr.SetConnected(ctx, gs.ID, "b", false))
	over := f.waitOver(t)
	assert.Equal(t, "a", over.WinnerID)
	assert.False(t, over.Players["a"].IsConnected)
}

func TestReconnectingKeepsTheTurnDeadline(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{TurnDuration: 100 * time.Millisecond})
	ctx := context.Background()
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	// b 反复断线重连，回合计时不应重置
	toggle := time.NewTicker(30 * time.Millisecond)
	defer toggle.Stop()
	deadline := time.After(2 * time.Second)
	connected := true
	for {
		select {
		case over := <-f.over:
			assert.Equal(t, "a", over.WinnerID)
			assert.True(t, over.Players["b"].HasFolded)
			return
		case <-toggle.C:
			connected = !connected
			_ = f.mgr.SetConnected(ctx, gs.ID, "b", connected)
		case <-deadline:
			t.Fatal("turn clock restarted on reconnect")
		}
	}
}

func TestPauseStopsTimersAndResume(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{TurnDuration: 30 * time.Millisecond})
	ctx := context.Background()
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	a := firstPlay(t, f, gs.ID, "b")
	paused, err := f.mgr.SetStatus(ctx, gs.ID, engine.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, paused.Status)

	_, err = f.mgr.ProcessAction(ctx, gs.ID, a)
	assert.ErrorIs(t, err, engine.ErrGameNotPlaying)

	select {
	case <-f.over:
		t.Fatal("paused game timed out")
	case <-time.After(80 * time.Millisecond):
	}

	_, err = f.mgr.SetStatus(ctx, gs.ID, engine.StatusPlaying)
	require.NoError(t, err)
	over := f.waitOver(t)
	assert.Equal(t, engine.StatusFinished, over.Status)
}

func TestFailedSettlementHoldsTheRoomUntilRetried(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	f.settler.fail = 1
	ctx := context.Background()
	gs := f.launch(t, room("room-1", human("a"), human("b")))

	_, err := f.mgr.Forfeit(ctx, gs.ID, "b")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return len(f.mgr.unsettled) == 1
	}, time.Second, 5*time.Millisecond)
	select {
	case <-f.over:
		t.Fatal("room released before the payout")
	case <-time.After(30 * time.Millisecond):
	}

	n, err := f.mgr.RetrySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	over := f.waitOver(t)
	assert.Equal(t, "a", over.WinnerID)

	calls := f.settler.all()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])

	n, err = f.mgr.RetrySettlements(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAbandonIdle(t *testing.T) {
	f := newFixture(t, state.NewMemoryStore(), Options{})
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.mgr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	idle := f.launch(t, room("room-1", human("a"), human("b")))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	fresh := f.launch(t, room("room-2", human("c"), human("d")))

	n, err := f.mgr.AbandonIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	over := f.waitOver(t)
	assert.Equal(t, idle.ID, over.ID)
	assert.Equal(t, engine.StatusAbandoned, over.Status)
	assert.Empty(t, f.settler.all())

	got, err := f.store.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPlaying, got.Status)
}

func TestRecoverResumesRunningGames(t *testing.T) {
	store := state.NewMemoryStore()
	first := newFixture(t, store, Options{})
	gs := first.launch(t, room("room-1", human("a"), human("b")))
	first.mgr.Close()

	second := newFixture(t, store, Options{})
	n, err := second.mgr.Recover(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a := firstPlay(t, second, gs.ID, "b")
	next, err := second.mgr.ProcessAction(context.Background(), gs.ID, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Turn)
}
