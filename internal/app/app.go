package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/nexevent/participation-backend/internal/admin"
	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/data/db"
	"github.com/nexevent/participation-backend/internal/data/repos"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/events"
	"github.com/nexevent/participation-backend/internal/observability"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
	"github.com/nexevent/participation-backend/internal/projection/completion"
	"github.com/nexevent/participation-backend/internal/projection/counters"
	"github.com/nexevent/participation-backend/internal/projection/fanout"
	"github.com/nexevent/participation-backend/internal/projection/leaderboard"
	"github.com/nexevent/participation-backend/internal/projection/subindex"
	"github.com/nexevent/participation-backend/internal/projection/userview"
	"github.com/nexevent/participation-backend/internal/readclient"
	"github.com/nexevent/participation-backend/internal/scheduler"
)

type App struct {
	Log          *logger.Logger
	DB           *gorm.DB
	Cfg          Config
	Repos        repos.Repos
	Store        cache.Store
	Bus          events.Bus
	Dispatcher   *events.Dispatcher
	Catalogs     *catalog.Writer
	Tracker      *completion.Tracker
	Builder      *userview.Builder
	Orchestrator *fanout.Orchestrator
	Counters     *counters.Maintainer
	Leaderboard  *leaderboard.Maintainer
	SubIndex     *subindex.Maintainer
	Scheduler    *scheduler.Scheduler
	ReadClient   *readclient.Client
	Admin        *admin.Service
	Metrics      *observability.Metrics
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	metrics := observability.Init(log)
	var hooks projection.Hooks = projection.NopHooks
	if metrics != nil {
		hooks = metrics
	}

	var store cache.Store
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		store, err = cache.NewRedisStore(log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set, using in-process cache store")
		store = cache.NewMemoryStore()
	}

	reposet := repos.New(theDB, log)

	catalogs := catalog.NewWriter(store, log, hooks)
	tracker := completion.NewTracker(store, log, hooks)
	builder := userview.NewBuilder(store, tracker, log, hooks)
	builder.SetPointsSource(reposet)
	orch := fanout.New(catalogs, builder, reposet, log, hooks, cfg.FanoutConcurrency, cfg.DebounceWindow)
	cnt := counters.NewMaintainer(store, reposet, log, hooks)
	lb := leaderboard.NewMaintainer(store, reposet, log, hooks)
	subidx := subindex.NewMaintainer(store, log, hooks)

	dispatcher := events.NewDispatcher(log, hooks)
	events.RegisterAll(dispatcher, events.Deps{
		Log:          log,
		Store:        store,
		Catalog:      catalogs,
		Tracker:      tracker,
		SubIndex:     subidx,
		Counters:     cnt,
		Leaderboard:  lb,
		Orchestrator: orch,
		Users:        reposet.Users,
	})

	var bus events.Bus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		bus, err = events.NewRedisBus(log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init event bus: %w", err)
		}
	} else {
		bus = events.NewLocalBus()
	}

	sched := scheduler.New(reposet.Activities, catalogs, lb, cnt, log, cfg.SchedulerInterval)
	reader := readclient.New(store, lb, orch, log, hooks, cfg.LocalReadTTL)

	adminSvc := admin.New(admin.Deps{
		Store:       store,
		Users:       reposet.Users,
		Activities:  reposet.Activities,
		Submissions: reposet.Submissions,
		Catalogs:    catalogs,
		Tracker:     tracker,
		SubIndex:    subidx,
		Counters:    cnt,
		Leaderboard: lb,
		Orch:        orch,
		Hooks:       hooks,
	}, log)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Store:        store,
		Bus:          bus,
		Dispatcher:   dispatcher,
		Catalogs:     catalogs,
		Tracker:      tracker,
		Builder:      builder,
		Orchestrator: orch,
		Counters:     cnt,
		Leaderboard:  lb,
		SubIndex:     subidx,
		Scheduler:    sched,
		ReadClient:   reader,
		Admin:        adminSvc,
		Metrics:      metrics,
	}, nil
}

// Start begins event consumption, the maintenance ticker and the metrics
// collectors. It returns once the forwarder is subscribed.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Bus.StartForwarder(ctx, func(ev domain.ChangeEvent) {
		a.Metrics.IncChangeEvent(string(ev.Kind), string(ev.Change))
		a.Dispatcher.Dispatch(ctx, ev)
	}); err != nil {
		return fmt.Errorf("start event forwarder: %w", err)
	}

	a.Scheduler.Start(ctx)

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartRedisCollector(ctx, a.Log, os.Getenv("REDIS_ADDR"))
	}
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
