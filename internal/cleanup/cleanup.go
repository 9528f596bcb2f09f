package cleanup

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// RoomExpirer cancels waiting rooms nobody touched for olderThan.
type RoomExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// GameReaper abandons games with no transition for olderThan and retries
// payouts that failed when their game ended.
type GameReaper interface {
	AbandonIdle(ctx context.Context, olderThan time.Duration) (int, error)
	RetrySettlements(ctx context.Context) (int, error)
}

type Options struct {
	Schedule    string
	RoomTTL     time.Duration
	IdleGameTTL time.Duration
}

// Cleaner runs the periodic sweeps.
type Cleaner struct {
	rooms RoomExpirer
	games GameReaper
	opts  Options
	log   *log.Logger
	cron  *cron.Cron
}

func New(rooms RoomExpirer, games GameReaper, opts Options, logger *log.Logger) *Cleaner {
	return &Cleaner{
		rooms: rooms,
		games: games,
		opts:  opts,
		log:   logger.WithPrefix("cleanup"),
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep; a bad cron expression is returned as is.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.opts.Schedule, func() { c.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.cron.Start()
	c.log.Info("cleanup scheduled", "schedule", c.opts.Schedule, "roomTTL", c.opts.RoomTTL, "idleGameTTL", c.opts.IdleGameTTL)
	return nil
}

// Stop waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// Sweep runs every job once.
func (c *Cleaner) Sweep(ctx context.Context) {
	if n, err := c.games.RetrySettlements(ctx); err != nil {
		c.log.Error("retry settlements", "err", err)
	} else if n > 0 {
		c.log.Info("games settled on retry", "games", n)
	}
	if c.opts.RoomTTL > 0 {
		n, err := c.rooms.ExpireStale(ctx, c.opts.RoomTTL)
		if err != nil {
			c.log.Error("expire stale rooms", "err", err)
		} else if n > 0 {
			c.log.Info("stale rooms cancelled", "rooms", n)
		}
	}
	if c.opts.IdleGameTTL > 0 {
		n, err := c.games.AbandonIdle(ctx, c.opts.IdleGameTTL)
		if err != nil {
			c.log.Error("abandon idle games", "err", err)
		} else if n > 0 {
			c.log.Info("idle games abandoned", "games", n)
		}
	}
}
