package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/ledger"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher 记录 Launch 次数，可注入失败
type fakeLauncher struct {
	calls atomic.Int32
	fail  error
}

func (f *fakeLauncher) Launch(ctx context.Context, room *Room) (string, error) {
	n := f.calls.Add(1)
	if f.fail != nil {
		return "", f.fail
	}
	return fmt.Sprintf("game-%s-%d", room.ID, n), nil
}

type fixture struct {
	svc      *Service
	ledger   *ledger.Service
	launcher *fakeLauncher
	bus      *events.Bus
}

func repos(t *testing.T) map[string]func() Repo {
	return map[string]func() Repo{
		"memory": NewMemoryRepo,
		"redis": func() Repo {
			mr := miniredis.RunT(t)
			return NewRedisRepo(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		},
	}
}

func newFixture(t *testing.T, repo Repo) *fixture {
	logger := log.New(io.Discard)
	ldg, err := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{CommissionRate: "0.10", FcfaPerKora: 10}, logger)
	require.NoError(t, err)
	bus := events.NewBus()
	svc := NewService(repo, ldg, engine.NewRegistry(engine.NewGarame()), bus,
		Limits{MinStake: 10, MaxStake: 10000, DefaultTurnSeconds: 30}, logger)
	l := &fakeLauncher{}
	svc.Launcher = l
	return &fixture{svc: svc, ledger: ldg, launcher: l, bus: bus}
}

func (f *fixture) fund(t *testing.T, user string, koras int64) {
	_, err := f.ledger.DepositKoras(context.Background(), user, koras, "seed:"+user)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, user string) int64 {
	b, err := f.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func eachRepo(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, mk := range repos(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, mk()))
		})
	}
}

func garameRoom(stake int64) CreateRoomRequest {
	return CreateRoomRequest{GameType: engine.GameTypeGarame, Stake: stake, Settings: Settings{AllowAI: true}}
}

func assertPot(t *testing.T, r *Room) {
	t.Helper()
	assert.Equal(t, r.Stake*int64(len(r.Players)), r.TotalPot)
	for i, p := range r.Players {
		assert.Equal(t, i, p.Position)
	}
}

func TestCreateAndJoinChargeStakes(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.fund(t, "alice", 1000)
		f.fund(t, "bob", 50)
		f.fund(t, "carol", 500)

		room, err := f.svc.CreateRoom(ctx, Actor{ID: "alice", Name: "Alice"}, garameRoom(100))
		require.NoError(t, err)
		assert.Equal(t, RoomWaiting, room.Status)
		assert.Equal(t, 30, room.Settings.TurnDurationSeconds)
		assert.Equal(t, 6, room.Settings.MaxPlayers)
		assert.Equal(t, int64(900), f.balance(t, "alice"))
		assertPot(t, room)

		_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "bob"}, JoinRoomRequest{})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.Equal(t, int64(50), f.balance(t, "bob"))

		room, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "carol"}, JoinRoomRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(400), f.balance(t, "carol"))
		assert.Len(t, room.Players, 2)
		assert.Equal(t, int64(200), room.TotalPot)
		assertPot(t, room)

		_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "carol"}, JoinRoomRequest{})
		assert.ErrorIs(t, err, ErrAlreadyJoined)

		_, err = f.svc.CreateRoom(ctx, Actor{ID: "carol"}, garameRoom(100))
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
	})
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, NewMemoryRepo())
	ctx := context.Background()
	f.fund(t, "alice", 1000)

	_, err := f.svc.CreateRoom(ctx, Actor{ID: "alice"}, CreateRoomRequest{GameType: "poker", Stake: 100})
	assert.ErrorIs(t, err, engine.ErrUnknownGameType)

	_, err = f.svc.CreateRoom(ctx, Actor{ID: "alice"}, garameRoom(5))
	assert.ErrorIs(t, err, ErrBadStake)

	req := garameRoom(100)
	req.Settings.MaxPlayers = 7
	_, err = f.svc.CreateRoom(ctx, Actor{ID: "alice"}, req)
	assert.ErrorIs(t, err, ErrBadSettings)

	_, err = f.svc.CreateRoom(ctx, Actor{ID: "alice"}, garameRoom(2000))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(1000), f.balance(t, "alice"))
}

func TestRoomFull(t *testing.T) {
	f := newFixture(t, NewMemoryRepo())
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		f.fund(t, u, 100)
	}
	req := garameRoom(100)
	req.Settings.MaxPlayers = 2
	room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, req)
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "b"}, JoinRoomRequest{})
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "c"}, JoinRoomRequest{})
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, int64(100), f.balance(t, "c"))
}

func TestLeaveRefundsAndCompactsPositions(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		for _, u := range []string{"a", "b", "c"} {
			f.fund(t, u, 300)
		}
		room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100))
		require.NoError(t, err)
		for _, u := range []string{"b", "c"} {
			room, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: u}, JoinRoomRequest{})
			require.NoError(t, err)
		}

		room, err = f.svc.LeaveRoom(ctx, room.ID, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, room.PlayerIDs())
		assertPot(t, room)
		assert.Equal(t, int64(300), f.balance(t, "b"))

		// b 可以重新加入，新的押注引用不与旧的冲突
		room, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "b"}, JoinRoomRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(200), f.balance(t, "b"))
		assertPot(t, room)

		_, err = f.svc.LeaveRoom(ctx, room.ID, "nobody")
		assert.ErrorIs(t, err, ErrNotInRoom)
	})
}

func TestCreatorLeavingTransfersOwnership(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.fund(t, "a", 100)
		f.fund(t, "b", 100)
		room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100))
		require.NoError(t, err)
		_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "b"}, JoinRoomRequest{})
		require.NoError(t, err)

		room, err = f.svc.LeaveRoom(ctx, room.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, "b", room.CreatorID)
		assert.Equal(t, RoomWaiting, room.Status)

		room, err = f.svc.LeaveRoom(ctx, room.ID, "b")
		require.NoError(t, err)
		assert.Equal(t, RoomCancelled, room.Status)
		assert.Equal(t, int64(100), f.balance(t, "a"))
		assert.Equal(t, int64(100), f.balance(t, "b"))

		cur, err := f.svc.repo.UserRoom(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, cur)
	})
}

func TestAISeatsArePaidByTheHouse(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.fund(t, "a", 100)
		f.fund(t, "b", 100)
		f.fund(t, ledger.HouseAccount, 1000)
		room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100))
		require.NoError(t, err)

		_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "b"}, JoinRoomRequest{AsAI: true})
		assert.ErrorIs(t, err, ErrNotCreator)
		_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "a"}, JoinRoomRequest{AsAI: true, AIDifficulty: "genius"})
		assert.Error(t, err)

		room, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "a"}, JoinRoomRequest{AsAI: true, AIDifficulty: "Hard"})
		require.NoError(t, err)
		ai := room.Players[1]
		assert.True(t, ai.IsAI)
		assert.True(t, ai.IsReady)
		assert.Equal(t, "hard", ai.AIDifficulty)
		assert.Equal(t, int64(900), f.balance(t, ledger.HouseAccount))
		assertPot(t, room)

		// 房主离开且只剩 AI：房间取消，house 拿回押注
		room, err = f.svc.LeaveRoom(ctx, room.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, RoomCancelled, room.Status)
		assert.Equal(t, int64(1000), f.balance(t, ledger.HouseAccount))
	})
}

func TestAINotAllowed(t *testing.T) {
	f := newFixture(t, NewMemoryRepo())
	ctx := context.Background()
	f.fund(t, "a", 100)
	room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, CreateRoomRequest{GameType: engine.GameTypeGarame, Stake: 100})
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "a"}, JoinRoomRequest{AsAI: true})
	assert.ErrorIs(t, err, ErrAINotAllowed)
}

func readyRoom(t *testing.T, f *fixture) *Room {
	ctx := context.Background()
	f.fund(t, "a", 100)
	f.fund(t, "b", 100)
	room, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100))
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, room.ID, Actor{ID: "b"}, JoinRoomRequest{})
	require.NoError(t, err)
	return room
}

func TestStartGame(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		room := readyRoom(t, f)
		var started atomic.Int32
		f.bus.Subscribe(events.RoomStarted, func(events.Event) { started.Add(1) })

		_, err := f.svc.StartGame(ctx, room.ID, "a")
		assert.ErrorIs(t, err, ErrNotReady)

		_, err = f.svc.SetPlayerReady(ctx, room.ID, "b", true)
		require.NoError(t, err)
		_, err = f.svc.StartGame(ctx, room.ID, "b")
		assert.ErrorIs(t, err, ErrNotCreator)

		gameID, err := f.svc.StartGame(ctx, room.ID, "a")
		require.NoError(t, err)
		assert.NotEmpty(t, gameID)

		got, err := f.svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, RoomInProgress, got.Status)
		assert.Equal(t, gameID, got.GameID)

		_, err = f.svc.StartGame(ctx, room.ID, "a")
		assert.ErrorIs(t, err, ErrRoomNotWaiting)
		_, err = f.svc.LeaveRoom(ctx, room.ID, "b")
		assert.ErrorIs(t, err, ErrRoomNotWaiting)
		assert.Equal(t, int32(1), f.launcher.calls.Load())
		assert.Equal(t, int32(1), started.Load())
	})
}

func TestConcurrentStartLaunchesOnce(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		room := readyRoom(t, f)
		_, err := f.svc.SetPlayerReady(ctx, room.ID, "b", true)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.svc.StartGame(ctx, room.ID, "a"); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(1), f.launcher.calls.Load())
	})
}

func TestStartGameRevertsWhenLaunchFails(t *testing.T) {
	f := newFixture(t, NewMemoryRepo())
	ctx := context.Background()
	room := readyRoom(t, f)
	_, err := f.svc.SetPlayerReady(ctx, room.ID, "b", true)
	require.NoError(t, err)

	boom := errors.New("boom")
	f.launcher.fail = boom
	_, err = f.svc.StartGame(ctx, room.ID, "a")
	assert.ErrorIs(t, err, boom)

	got, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, RoomWaiting, got.Status)
}

// flakyRepo 让进入 in_progress 的前几次保存失败
type flakyRepo struct {
	Repo
	fails atomic.Int32
}

func (r *flakyRepo) Save(ctx context.Context, room *Room, expectedVersion int64) error {
	if room.Status == RoomInProgress && r.fails.Add(-1) >= 0 {
		return errors.New("redis timeout")
	}
	return r.Repo.Save(ctx, room, expectedVersion)
}

func TestStartGameRetriesTheFinalSave(t *testing.T) {
	repo := &flakyRepo{Repo: NewMemoryRepo()}
	repo.fails.Store(1)
	f := newFixture(t, repo)
	ctx := context.Background()
	room := readyRoom(t, f)
	_, err := f.svc.SetPlayerReady(ctx, room.ID, "b", true)
	require.NoError(t, err)

	gameID, err := f.svc.StartGame(ctx, room.ID, "a")
	require.NoError(t, err)

	got, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, RoomInProgress, got.Status)
	assert.Equal(t, gameID, got.GameID)
}

func TestStartingRoomIsStillReleased(t *testing.T) {
	repo := &flakyRepo{Repo: NewMemoryRepo()}
	repo.fails.Store(2)
	f := newFixture(t, repo)
	ctx := context.Background()
	room := readyRoom(t, f)
	_, err := f.svc.SetPlayerReady(ctx, room.ID, "b", true)
	require.NoError(t, err)

	gameID, err := f.svc.StartGame(ctx, room.ID, "a")
	require.NoError(t, err, "the game is running")
	assert.NotEmpty(t, gameID)

	got, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, RoomStarting, got.Status)

	require.NoError(t, f.svc.CompleteRoom(ctx, room.ID, engine.StatusFinished))
	got, err = f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, RoomFinished, got.Status)
	for _, u := range []string{"a", "b"} {
		cur, err := f.svc.repo.UserRoom(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, cur)
	}
}

func TestConcurrentCreatesSeatTheUserOnce(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.fund(t, "a", 1000)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100)); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int64(900), f.balance(t, "a"), "losing creates are refunded")

		listed, err := f.svc.ListRooms(ctx, RoomWaiting)
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})
}

func TestRepoRejectsASecondOpenSeat(t *testing.T) {
	for name, mk := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := mk()
			first := &Room{ID: "r1", Status: RoomWaiting, CreatorID: "a", Players: []RoomPlayer{{ID: "a"}}}
			require.NoError(t, repo.Create(ctx, first))

			second := &Room{ID: "r2", Status: RoomWaiting, CreatorID: "a", Players: []RoomPlayer{{ID: "a"}}}
			assert.ErrorIs(t, repo.Create(ctx, second), ErrAlreadyInRoom)

			other := &Room{ID: "r3", Status: RoomWaiting, CreatorID: "b", Players: []RoomPlayer{{ID: "b"}}}
			require.NoError(t, repo.Create(ctx, other))
			other.Players = append(other.Players, RoomPlayer{ID: "a", Position: 1})
			assert.ErrorIs(t, repo.Save(ctx, other, other.Version), ErrAlreadyInRoom)

			first.Status = RoomCancelled
			require.NoError(t, repo.Save(ctx, first, first.Version))
			require.NoError(t, repo.Save(ctx, other, other.Version))
		})
	}
}

func TestCancelRoomRefundsEveryone(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		room := readyRoom(t, f)

		_, err := f.svc.CancelRoom(ctx, room.ID, "b")
		assert.ErrorIs(t, err, ErrNotCreator)

		room, err = f.svc.CancelRoom(ctx, room.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, RoomCancelled, room.Status)
		assert.Equal(t, int64(100), f.balance(t, "a"))
		assert.Equal(t, int64(100), f.balance(t, "b"))

		_, err = f.svc.CancelRoom(ctx, room.ID, "a")
		assert.ErrorIs(t, err, ErrRoomNotWaiting)
		assert.Equal(t, int64(100), f.balance(t, "a"))
	})
}

func TestCompleteRoom(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		room := readyRoom(t, f)
		_, err := f.svc.SetPlayerReady(ctx, room.ID, "b", true)
		require.NoError(t, err)
		_, err = f.svc.StartGame(ctx, room.ID, "a")
		require.NoError(t, err)

		require.NoError(t, f.svc.CompleteRoom(ctx, room.ID, engine.StatusAbandoned))
		require.NoError(t, f.svc.CompleteRoom(ctx, room.ID, engine.StatusAbandoned))
		assert.Equal(t, int64(100), f.balance(t, "a"))
		assert.Equal(t, int64(100), f.balance(t, "b"))

		got, err := f.svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, RoomFinished, got.Status)

		cur, err := f.svc.repo.UserRoom(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, cur)
	})
}

func TestExpireStaleAndListRooms(t *testing.T) {
	eachRepo(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		f.svc.now = func() time.Time { return now }

		f.fund(t, "a", 100)
		f.fund(t, "b", 100)
		old, err := f.svc.CreateRoom(ctx, Actor{ID: "a"}, garameRoom(100))
		require.NoError(t, err)

		now = now.Add(time.Hour)
		private := garameRoom(100)
		private.Settings.Private = true
		fresh, err := f.svc.CreateRoom(ctx, Actor{ID: "b"}, private)
		require.NoError(t, err)

		listed, err := f.svc.ListRooms(ctx, "")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, old.ID, listed[0].ID)

		n, err := f.svc.ExpireStale(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(100), f.balance(t, "a"))

		got, err := f.svc.GetRoom(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, RoomWaiting, got.Status)

		_, err = f.svc.GetRoom(ctx, "missing")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}
