package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/openrealm/server/internal/broadcast"
	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/config"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/handler"
	gonet "github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/persist"
	"github.com/openrealm/server/internal/scripting"
	"github.com/openrealm/server/internal/system"
	"github.com/openrealm/server/internal/world"
)

const maxSkillLevel = 99

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config/server.toml"
	if p := os.Getenv("OPENREALM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	// Durable store first; nothing works without it.
	db, err := persist.NewDB(bootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Pool.Close()
	if err := persist.RunMigrations(bootCtx, db.Pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	catalog, err := data.LoadCatalog(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info("catalog loaded",
		zap.Int("items", catalog.Items.Count()),
		zap.Int("skills", catalog.Skills.Count()),
		zap.Int("entities", catalog.Entities.Count()),
		zap.Int("maps", catalog.Maps.Count()),
		zap.Int("spawns", len(catalog.Spawns)))

	catalogRepo := persist.NewCatalogRepo(db)
	if err := catalogRepo.Sync(bootCtx, catalog); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}

	cch, err := cache.New(bootCtx, cache.Options{
		Addr:        cfg.Cache.Addr,
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		PoolSize:    cfg.Cache.PoolSize,
		DialTimeout: cfg.Cache.DialTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer cch.Close()

	engine, err := scripting.NewEngine(cfg.Server.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}

	// The experience curve lives in Lua but managers run on session
	// goroutines, so the whole table is precomputed here.
	xpTable := data.NewXPTable(maxSkillLevel, engine.XPForLevel)

	seed := cfg.Game.RNGSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	clk := clock.System{}
	bus := event.NewBus()

	playerRepo := persist.NewPlayerRepo(db)
	invRepo := persist.NewInventoryRepo(db)
	equipRepo := persist.NewEquipmentRepo(db)
	skillRepo := persist.NewSkillRepo(db)
	groundRepo := persist.NewGroundItemRepo(db)
	tokenRepo := persist.NewTokenRepo(db)

	w := world.New(world.Deps{
		Cache:         cch,
		Clock:         clk,
		Bus:           bus,
		Catalog:       catalog,
		XP:            xpTable,
		Log:           log,
		Players:       playerRepo,
		Inventory:     invRepo,
		Equipment:     equipRepo,
		Skills:        skillRepo,
		StateTTL:      cfg.Cache.StateTTL,
		GroundPrivacy: cfg.Game.GroundItemPrivacy,
		GroundDespawn: cfg.Game.GroundItemDespawn,
	})

	if err := rehydrateGround(bootCtx, w, groundRepo, clk); err != nil {
		return fmt.Errorf("rehydrate ground items: %w", err)
	}
	if err := system.SeedEntities(bootCtx, w, catalog, rng, log); err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := gonet.NewRegistry(log)
	netServer := gonet.NewServer(cfg.Server.BindAddress, cfg.Network, sessions, log)

	hpSvc := system.NewHPService(w.Players, w.Inventory, w.Ground, catalog.Items, catalog.Maps, clk, bus, log)
	movement := system.NewMovementService(w.Players, catalog.Maps, catalog.Portals, clk, cfg.Game.MoveCooldown, log)
	combat := system.NewCombatSystem(ctx, w, catalog, engine, hpSvc, clk, bus, rng,
		cfg.Game.AttackCooldown, cfg.Server.TickRate, cfg.Game.DyingTicks, log)
	ai := system.NewAISystem(ctx, w, catalog.Maps, engine, combat, clk, rng, cfg.Game.WanderChance, log)
	respawn := system.NewRespawnSystem(ctx, w.Entities, log)
	sweep := system.NewGroundSweepSystem(ctx, w.Ground, log)
	syncStore := persist.NewSyncStore(db, playerRepo, invRepo, equipRepo, skillRepo, groundRepo)
	syncSys := system.NewSyncSystem(ctx, cch, w, syncStore, catalog.Skills, cfg.Game.SyncInterval, log)
	broadcaster := broadcast.New(ctx, bus, sessions, w, clk,
		cfg.Game.VisibilityRadius, cfg.Game.LocalChatRadius, log)

	runner := coresys.NewRunner()
	runner.Register(combat)
	runner.Register(ai)
	runner.Register(respawn)
	runner.Register(sweep)
	runner.Register(broadcaster)
	runner.Register(syncSys)

	deps := &handler.Deps{
		Config:   cfg,
		Log:      log,
		World:    w,
		Catalog:  catalog,
		Movement: movement,
		Combat:   combat,
		HP:       hpSvc,
		Players:  playerRepo,
		Tokens:   tokenRepo,
		Sessions: sessions,
		Bus:      bus,
		Clock:    clk,
		Chunks:   fastcache.New(cfg.Game.ChunkCacheBytes),
	}
	reg := handler.NewRegistry(deps)
	handler.RegisterAll(reg, deps)
	netServer.SetDispatcher(reg.Dispatch)
	netServer.SetOnDisconnect(handler.OnDisconnect(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return netServer.Run(gctx) })
	g.Go(func() error {
		gameLoop(gctx, runner, cfg.Server.TickRate)
		return nil
	})

	log.Info("server up",
		zap.String("name", cfg.Server.Name),
		zap.String("addr", cfg.Server.BindAddress),
		zap.Duration("tick", cfg.Server.TickRate),
		zap.Int64("seed", seed))

	if err := g.Wait(); err != nil {
		return err
	}

	// Final drain. Failing here means player state only exists in the
	// cache, which is worth a non-zero exit.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := syncSys.FlushAll(drainCtx, cfg.Game.SyncRetries); err != nil {
		return fmt.Errorf("final state flush: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func gameLoop(ctx context.Context, runner *coresys.Runner, tickRate time.Duration) {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runner.Tick(tickRate)
		}
	}
}

// rehydrateGround reloads unexpired ground items after a cold cache start
// and fast-forwards the id sequence past anything already persisted.
func rehydrateGround(ctx context.Context, w *world.World, repo *persist.GroundItemRepo, clk clock.Clock) error {
	now := float64(clk.Now().UnixNano()) / float64(time.Second)
	rows, err := repo.LoadUnexpired(ctx, now)
	if err != nil {
		return err
	}
	items := make([]world.GroundItem, 0, len(rows))
	for _, r := range rows {
		g := world.GroundItem{
			ID:         r.ID,
			ItemID:     r.ItemID,
			MapID:      r.MapID,
			X:          r.X,
			Y:          r.Y,
			Quantity:   r.Quantity,
			Durability: r.Durability,
			DroppedAt:  r.DroppedAt,
			PublicAt:   r.PublicAt,
			DespawnAt:  r.DespawnAt,
		}
		if r.DroppedBy != nil {
			g.DroppedBy = *r.DroppedBy
		}
		items = append(items, g)
	}
	if err := w.Ground.Rehydrate(ctx, items); err != nil {
		return err
	}
	maxID, err := repo.MaxID(ctx)
	if err != nil {
		return err
	}
	return w.Ground.SeedIDSequence(ctx, maxID)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
