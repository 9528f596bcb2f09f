package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Garame/config"
	"Garame/internal/bot"
	"Garame/internal/cleanup"
	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/game/manager"
	"Garame/internal/game/state"
	"Garame/internal/ledger"
	"Garame/internal/matchmaker"
	"Garame/internal/middleware"
	"Garame/internal/storage"
	"Garame/internal/utils"
	"Garame/internal/websocket"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatal("config", "err", err)
	}
	logger := utils.NewLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//-------------------------------------------------------
	// 1. 存储：房间 / 对局状态 / 账本
	//-------------------------------------------------------
	var (
		rooms  matchmaker.Repo
		states state.Store
	)
	switch cfg.Storage.Backend {
	case "redis":
		rdb, err := storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Redis init failed", "addr", cfg.Redis.Addr, "err", err)
		}
		defer rdb.Close()
		rooms = matchmaker.NewRedisRepo(rdb)
		states = state.NewRedisStore(rdb)
	default:
		rooms = matchmaker.NewMemoryRepo()
		states = state.NewMemoryStore()
	}

	var ledgerStore ledger.Store
	if cfg.Database.Driver == "memory" {
		ledgerStore = ledger.NewMemoryStore()
	} else if ledgerStore, err = ledger.OpenSQLStore(ctx, cfg.Database.Driver, cfg.Database.DSN); err != nil {
		logger.Fatal("ledger store init failed", "driver", cfg.Database.Driver, "err", err)
	}
	defer ledgerStore.Close()

	ldg, err := ledger.NewService(ledgerStore, ledger.Config{
		CommissionRate: cfg.Ledger.CommissionRate,
		FcfaPerKora:    cfg.Ledger.FcfaPerKora,
	}, logger)
	if err != nil {
		logger.Fatal("ledger init failed", "err", err)
	}
	if cfg.Ledger.HouseFloat > 0 {
		if _, err := ldg.DepositKoras(ctx, ledger.HouseAccount, cfg.Ledger.HouseFloat, "house:float"); err != nil && !ledger.IsReplay(err) {
			logger.Fatal("house float failed", "err", err)
		}
	}

	//-------------------------------------------------------
	// 2. 规则引擎 / 事件总线 / Hub（必须最先启动）
	//-------------------------------------------------------
	registry := engine.NewRegistry(engine.NewGarame())
	bus := events.NewBus()

	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Close()
	stopRelay := websocket.Relay(bus, hub)
	defer stopRelay()

	//-------------------------------------------------------
	// 3. GameManager + 房间服务
	//-------------------------------------------------------
	games := manager.NewGameManager(states, registry, bot.NewProvider(registry), ldg, hub, bus, manager.Options{
		TurnDuration:    cfg.Game.TurnDuration,
		BotDelay:        cfg.Game.BotDelay,
		DisconnectGrace: cfg.Game.DisconnectGrace,
	}, logger)
	defer games.Close()

	roomSvc := matchmaker.NewService(rooms, ldg, registry, bus, matchmaker.Limits{
		MinStake:           cfg.Game.MinStake,
		MaxStake:           cfg.Game.MaxStake,
		DefaultTurnSeconds: int(cfg.Game.TurnDuration / time.Second),
	}, logger)
	roomSvc.Launcher = games

	// 💡 对局结束回调：释放房间
	games.OnGameOver = func(ctx context.Context, gs *engine.GameState) {
		if err := roomSvc.CompleteRoom(ctx, gs.RoomID, gs.Status); err != nil {
			logger.Error("complete room failed", "room", gs.RoomID, "game", gs.ID, "err", err)
		}
	}
	if _, err := games.Recover(ctx, cfg.Cleanup.IdleGameTTL); err != nil {
		logger.Error("recover games failed", "err", err)
	}

	cleaner := cleanup.New(roomSvc, games, cleanup.Options{
		Schedule:    cfg.Cleanup.Schedule,
		RoomTTL:     cfg.Cleanup.RoomTTL,
		IdleGameTTL: cfg.Cleanup.IdleGameTTL,
	}, logger)
	if err := cleaner.Start(); err != nil {
		logger.Fatal("cleanup schedule invalid", "schedule", cfg.Cleanup.Schedule, "err", err)
	}
	defer cleaner.Stop()

	//-------------------------------------------------------
	// 4. Gin + CORS + 路由
	//-------------------------------------------------------
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Callback-Secret"},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	secret := []byte(cfg.JWT.Secret)
	router := websocket.NewRouter(hub, games, roomSvc, logger)
	wallet := ledger.NewHandler(ldg)

	auth := r.Group("/", middleware.JwtAuthMiddleware(secret))
	{
		auth.GET("/ws", websocket.ServeWS(hub, router))
		matchmaker.NewHandler(roomSvc).Register(auth)
		manager.NewHandler(games).Register(auth)

		auth.GET("/wallet/balance", wallet.Balance)
		auth.GET("/wallet/transactions", wallet.Transactions)
		auth.GET("/wallet/reconcile", wallet.Reconcile)
		auth.POST("/wallet/withdraw", wallet.Withdraw)
	}

	payments := r.Group("/payments", middleware.CallbackSecret(cfg.Payments.CallbackSecret))
	{
		payments.POST("/deposit", wallet.Deposit)
		payments.POST("/withdrawals/:id/complete", wallet.CompleteWithdrawal)
		payments.POST("/withdrawals/:id/fail", wallet.FailWithdrawal)
	}

	//-------------------------------------------------------
	// 5. 启动服务器，收到信号后优雅退出
	//-------------------------------------------------------
	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		logger.Info("Server running", "addr", cfg.Server.Port, "storage", cfg.Storage.Backend, "ledger", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
