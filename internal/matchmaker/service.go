package matchmaker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Garame/internal/bot"
	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/ledger"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Ledger 房间对账本的全部依赖
type Ledger interface {
	CanAffordStake(ctx context.Context, userID string, stake int64) (bool, error)
	ProcessStake(ctx context.Context, userID string, amount int64, roomID, reference string) (*ledger.Transaction, error)
	Refund(ctx context.Context, stakeReference string) (*ledger.Transaction, error)
}

// GameLauncher creates the authoritative game for a room that is starting.
type GameLauncher interface {
	Launch(ctx context.Context, room *Room) (gameID string, err error)
}

type Limits struct {
	MinStake           int64
	MaxStake           int64
	DefaultTurnSeconds int
}

type Service struct {
	repo    Repo
	ledger  Ledger
	engines *engine.Registry
	bus     *events.Bus
	limits  Limits
	log     *log.Logger
	locks   *keyedMutex
	now     func() time.Time

	// Launcher 在 StartGame 时创建 GameState，由 main 注入
	Launcher GameLauncher
}

func NewService(repo Repo, ldg Ledger, engines *engine.Registry, bus *events.Bus, limits Limits, logger *log.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ldg,
		engines: engines,
		bus:     bus,
		limits:  limits,
		log:     logger.WithPrefix("rooms"),
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) publish(topic string, room *Room) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Topic: topic, RoomID: room.ID, Payload: room.Clone(), At: s.now()})
}

// CreateRoom 扣除房主押注后创建房间，房主坐 0 号位且已准备
func (s *Service) CreateRoom(ctx context.Context, creator Actor, req CreateRoomRequest) (*Room, error) {
	eng, err := s.engines.Get(req.GameType)
	if err != nil {
		return nil, err
	}
	if req.Stake <= 0 || (s.limits.MinStake > 0 && req.Stake < s.limits.MinStake) ||
		(s.limits.MaxStake > 0 && req.Stake > s.limits.MaxStake) {
		return nil, ErrBadStake
	}
	settings := req.Settings
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = eng.MaxPlayers()
	}
	if settings.MaxPlayers < eng.MinPlayers() || settings.MaxPlayers > eng.MaxPlayers() {
		return nil, fmt.Errorf("maxPlayers must be within [%d,%d]: %w", eng.MinPlayers(), eng.MaxPlayers(), ErrBadSettings)
	}
	if settings.TurnDurationSeconds < 0 {
		return nil, ErrBadSettings
	}
	if settings.TurnDurationSeconds == 0 {
		settings.TurnDurationSeconds = s.limits.DefaultTurnSeconds
	}

	if err := s.ensureFree(ctx, creator.ID, ""); err != nil {
		return nil, err
	}
	ok, err := s.ledger.CanAffordStake(ctx, creator.ID, req.Stake)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledger.ErrInsufficientBalance
	}

	now := s.now()
	room := &Room{
		ID:        uuid.NewString(),
		GameType:  req.GameType,
		CreatorID: creator.ID,
		Stake:     req.Stake,
		Status:    RoomWaiting,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ref := ledger.StakeReference(room.ID, creator.ID, 0)
	if _, err := s.ledger.ProcessStake(ctx, creator.ID, req.Stake, room.ID, ref); err != nil && !ledger.IsReplay(err) {
		return nil, err
	}
	room.Players = []RoomPlayer{{
		ID: creator.ID, Name: creator.Name, Position: 0, IsReady: true, StakeRef: ref, JoinedAt: now,
	}}
	room.TotalPot = req.Stake

	if err := s.repo.Create(ctx, room); err != nil {
		s.refund(ctx, room.ID, ref)
		return nil, err
	}
	s.log.Info("room created", "room", room.ID, "creator", creator.ID, "stake", room.Stake)
	s.publish(events.RoomCreated, room)
	return room.Clone(), nil
}

func (s *Service) ensureFree(ctx context.Context, userID, roomID string) error {
	cur, err := s.repo.UserRoom(ctx, userID)
	if err != nil {
		return err
	}
	if cur != "" && cur != roomID {
		return ErrAlreadyInRoom
	}
	return nil
}

func (s *Service) load(ctx context.Context, roomID string) (*Room, error) {
	room, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// JoinRoom 加入等待中的房间。AI 座位只能由房主添加，押注由 house 账户支付
func (s *Service) JoinRoom(ctx context.Context, roomID string, actor Actor, req JoinRoomRequest) (*Room, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	if len(room.Players) >= room.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}

	seat := RoomPlayer{Position: len(room.Players), JoinedAt: s.now()}
	payer := actor.ID
	if req.AsAI {
		if !room.Settings.AllowAI {
			return nil, ErrAINotAllowed
		}
		if actor.ID != room.CreatorID {
			return nil, ErrNotCreator
		}
		difficulty := strings.ToLower(req.AIDifficulty)
		if difficulty == "" {
			difficulty = bot.DifficultyMedium
		}
		if !bot.ValidDifficulty(difficulty) {
			return nil, bot.ErrUnknownDifficulty
		}
		seat.ID = "ai:" + uuid.NewString()[:8]
		seat.Name = fmt.Sprintf("Bot %s %d", difficulty, seat.Position)
		seat.IsAI = true
		seat.AIDifficulty = difficulty
		seat.IsReady = true
		payer = ledger.HouseAccount
	} else {
		if _, ok := room.Player(actor.ID); ok {
			return nil, ErrAlreadyJoined
		}
		if err := s.ensureFree(ctx, actor.ID, room.ID); err != nil {
			return nil, err
		}
		ok, err := s.ledger.CanAffordStake(ctx, actor.ID, room.Stake)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ledger.ErrInsufficientBalance
		}
		seat.ID = actor.ID
		seat.Name = actor.Name
	}

	seat.StakeRef = ledger.StakeReference(room.ID, seat.ID, room.Version)
	if _, err := s.ledger.ProcessStake(ctx, payer, room.Stake, room.ID, seat.StakeRef); err != nil && !ledger.IsReplay(err) {
		return nil, err
	}
	room.Players = append(room.Players, seat)
	room.TotalPot += room.Stake
	room.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		s.refund(ctx, room.ID, seat.StakeRef)
		return nil, err
	}
	s.log.Info("player joined", "room", room.ID, "player", seat.ID, "ai", seat.IsAI, "position", seat.Position)
	s.publish(events.RoomPlayerJoined, room)
	return room.Clone(), nil
}

// LeaveRoom 仅等待阶段可离开，押注全额退回。房主离开时转交给最早入座的真人；
// 只剩 AI 时房间取消
func (s *Service) LeaveRoom(ctx context.Context, roomID, playerID string) (*Room, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	leaver, ok := room.Player(playerID)
	if !ok {
		return nil, ErrNotInRoom
	}

	kept := make([]RoomPlayer, 0, len(room.Players)-1)
	for _, p := range room.Players {
		if p.ID != playerID {
			p.Position = len(kept)
			kept = append(kept, p)
		}
	}
	room.Players = kept
	room.TotalPot -= room.Stake
	room.UpdatedAt = s.now()

	refunds := []string{leaver.StakeRef}
	if playerID == room.CreatorID {
		if humans := room.Humans(); len(humans) > 0 {
			room.CreatorID = humans[0]
		} else {
			room.Status = RoomCancelled
			for _, p := range room.Players {
				refunds = append(refunds, p.StakeRef)
			}
		}
	}

	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		return nil, err
	}
	for _, ref := range refunds {
		s.refund(ctx, room.ID, ref)
	}
	s.log.Info("player left", "room", room.ID, "player", playerID, "status", room.Status, "creator", room.CreatorID)
	s.publish(events.RoomPlayerLeft, room)
	if room.Status == RoomCancelled {
		s.publish(events.RoomCancelled, room)
	}
	return room.Clone(), nil
}

func (s *Service) SetPlayerReady(ctx context.Context, roomID, playerID string, ready bool) (*Room, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	found := false
	for i := range room.Players {
		if room.Players[i].ID == playerID {
			room.Players[i].IsReady = ready || room.Players[i].IsAI
			found = true
		}
	}
	if !found {
		return nil, ErrNotInRoom
	}
	room.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		return nil, err
	}
	s.publish(events.RoomPlayerReady, room)
	return room.Clone(), nil
}

// CanStartGame 所有人已准备且人数不少于引擎下限
func (s *Service) CanStartGame(room *Room) bool {
	eng, err := s.engines.Get(room.GameType)
	if err != nil || room.Status != RoomWaiting || len(room.Players) < eng.MinPlayers() {
		return false
	}
	for _, p := range room.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// StartGame waiting -> starting -> in_progress。第二次调用看到的已不是
// waiting，返回 ErrRoomNotWaiting，不会再建第二个 GameState
func (s *Service) StartGame(ctx context.Context, roomID, actorID string) (string, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.Status != RoomWaiting {
		return "", ErrRoomNotWaiting
	}
	if actorID != room.CreatorID {
		return "", ErrNotCreator
	}
	if !s.CanStartGame(room) {
		return "", ErrNotReady
	}
	if s.Launcher == nil {
		return "", fmt.Errorf("no game launcher configured")
	}

	room.Status = RoomStarting
	room.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		return "", err
	}

	gameID, err := s.Launcher.Launch(ctx, room.Clone())
	if err != nil {
		room.Status = RoomWaiting
		room.UpdatedAt = s.now()
		if serr := s.repo.Save(ctx, room, room.Version); serr != nil {
			s.log.Error("revert starting room failed", "room", room.ID, "err", serr)
		}
		return "", err
	}

	if err := s.markInProgress(ctx, room, gameID); err != nil {
		// the game is already running; CompleteRoom still releases a starting room
		s.log.Error("mark room in progress failed", "room", room.ID, "game", gameID, "err", err)
	}
	s.log.Info("game started", "room", room.ID, "game", gameID, "players", len(room.Players))
	s.publish(events.RoomStarted, room)
	return gameID, nil
}

// markInProgress records the launched game, reloading once if the save
// lost a race with another writer.
func (s *Service) markInProgress(ctx context.Context, room *Room, gameID string) error {
	save := func(r *Room) error {
		r.Status = RoomInProgress
		r.GameID = gameID
		r.UpdatedAt = s.now()
		return s.repo.Save(ctx, r, r.Version)
	}
	err := save(room)
	if err == nil {
		return nil
	}
	fresh, lerr := s.load(ctx, room.ID)
	if lerr != nil {
		return err
	}
	if fresh.Status != RoomStarting {
		return err
	}
	if err := save(fresh); err != nil {
		return err
	}
	*room = *fresh
	return nil
}

// CancelRoom 房主取消等待中的房间，全员退款
func (s *Service) CancelRoom(ctx context.Context, roomID, actorID string) (*Room, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if actorID != room.CreatorID {
		return nil, ErrNotCreator
	}
	return s.cancelLocked(ctx, room, "cancelled by creator")
}

func (s *Service) cancelLocked(ctx context.Context, room *Room, reason string) (*Room, error) {
	if room.Status != RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	room.Status = RoomCancelled
	room.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		return nil, err
	}
	for _, p := range room.Players {
		s.refund(ctx, room.ID, p.StakeRef)
	}
	s.log.Info("room cancelled", "room", room.ID, "reason", reason)
	s.publish(events.RoomCancelled, room)
	return room.Clone(), nil
}

// CompleteRoom releases a room whose game reached a terminal status.
// Abandoned games never settle, so every stake goes back.
func (s *Service) CompleteRoom(ctx context.Context, roomID string, status engine.Status) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == RoomFinished {
		return nil
	}
	if room.Status != RoomInProgress && room.Status != RoomStarting {
		return ErrRoomNotWaiting
	}
	room.Status = RoomFinished
	room.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, room, room.Version); err != nil {
		return err
	}
	if status == engine.StatusAbandoned {
		for _, p := range room.Players {
			s.refund(ctx, room.ID, p.StakeRef)
		}
	}
	s.log.Info("room finished", "room", room.ID, "game", room.GameID, "gameStatus", status)
	s.publish(events.RoomFinished, room)
	return nil
}

// ExpireStale cancels waiting rooms untouched for longer than olderThan.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	rooms, err := s.repo.ListByStatus(ctx, RoomWaiting)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)
	n := 0
	for _, r := range rooms {
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.expire(ctx, r.ID, cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Service) expire(ctx context.Context, roomID string, cutoff time.Time) bool {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil || room.Status != RoomWaiting || !room.UpdatedAt.Before(cutoff) {
		return false
	}
	if _, err := s.cancelLocked(ctx, room, "expired"); err != nil {
		s.log.Warn("expire room failed", "room", roomID, "err", err)
		return false
	}
	return true
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	return s.load(ctx, roomID)
}

// ListRooms 列出公开房间，默认 waiting
func (s *Service) ListRooms(ctx context.Context, status RoomStatus) ([]*Room, error) {
	if status == "" {
		status = RoomWaiting
	}
	rooms, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]*Room, 0, len(rooms))
	for _, r := range rooms {
		if !r.Settings.Private {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) refund(ctx context.Context, roomID, stakeRef string) {
	if stakeRef == "" {
		return
	}
	if _, err := s.ledger.Refund(ctx, stakeRef); err != nil && !ledger.IsReplay(err) {
		s.log.Error("refund failed", "room", roomID, "ref", stakeRef, "err", err)
	}
}
