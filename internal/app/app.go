package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"courtbook/internal/config"
	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/logging"
	"courtbook/internal/models"
	"courtbook/internal/notify"
	"courtbook/internal/pricing"
	"courtbook/internal/repository"
	"courtbook/internal/scheduler"
	"courtbook/internal/service"
	"courtbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App holds the wired components shared by the api and worker processes.
type App struct {
	Config   *config.Config
	DB       *database.DB
	Redis    *redis.Client
	Bus      *events.EventBus
	Worker   *worker.JobWorker
	Bookings *service.BookingService
	Payments *service.PaymentService
	Wallets  *service.WalletService
	Groups   *service.GroupService
	Notifier *notify.TelegramNotifier

	scheduler *scheduler.Service
	clock     clockwork.Clock
	logger    *zerolog.Logger
}

// New opens storage and builds every service. Redis and Telegram are optional:
// without Redis the delay queue lives in memory, without Telegram nobody is paged.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}
	clock := clockwork.NewRealClock()

	if err := prepareDirectories(cfg); err != nil {
		return nil, err
	}

	db, err := initDatabase(ctx, cfg, clock, logger)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db, Bus: events.NewEventBus(), clock: clock, logger: logger}
	a.Bus.OnError(func(ev *events.Event, err error) {
		logger.Warn().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})

	a.Redis = initRedis(ctx, cfg, logger)
	queue := initDelayQueue(cfg, a.Redis, clock, logging.Component(logger, "delay-queue"))

	a.Worker = worker.NewJobWorker(db, queue, a.Redis, worker.RetryPolicy{
		MaxRetries:   cfg.Worker.MaxRetries,
		InitialDelay: cfg.Worker.InitialDelay,
		MaxDelay:     cfg.Worker.MaxDelay,
	}, worker.Options{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
	}, clock, logging.Component(logger, "job-worker"))

	resolver := pricing.NewResolver(db, pricing.NewRuleStrategy(db, loc), pricing.NewBandStrategy(loc))
	svcLogger := logging.Component(logger, "service")
	a.Bookings = service.NewBookingService(db, resolver, a.Worker, a.Bus, clock, service.PolicyFromConfig(cfg.Booking, loc), svcLogger)
	a.Payments = service.NewPaymentService(db, a.Worker, a.Bus, clock, svcLogger)
	a.Wallets = service.NewWalletService(db, a.Bus, clock, svcLogger)
	a.Groups = service.NewGroupService(db, a.Bookings, a.Bus, clock, svcLogger)

	a.Worker.Handle(models.JobTypeBookingExpiration, worker.ExpirationHandler(a.Bookings))

	if cfg.Telegram.Enabled {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		botAPI.Debug = cfg.Telegram.Debug
		a.Notifier = notify.NewTelegramNotifier(botAPI, cfg.Telegram.ChatIDs, loc, logging.Component(logger, "telegram"))
		a.Notifier.Subscribe(a.Bus)
	}

	a.scheduler, err = scheduler.New(clock, logging.Component(logger, "scheduler"))
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := scheduler.RegisterBookingJobs(a.scheduler, a.Bookings, cfg.Scheduler.SweepInterval); err != nil {
		a.Close()
		return nil, err
	}
	backup := database.NewBackupService(db, cfg.Backup, logger)
	if err := scheduler.RegisterBackupJob(a.scheduler, backup, cfg.Backup.Interval); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// RunBackground starts the job worker, the periodic sweeps and the notifier
// inside g. Everything stops when ctx is done.
func (a *App) RunBackground(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		a.Worker.Start(ctx)
		return nil
	})

	a.scheduler.Start()
	g.Go(func() error {
		<-ctx.Done()
		return a.scheduler.Stop()
	})

	if a.Notifier != nil {
		g.Go(func() error {
			a.Notifier.Run(ctx)
			return nil
		})
	}
}

func (a *App) Close() {
	if a.scheduler != nil {
		_ = a.scheduler.Stop()
	}
	if a.Redis != nil {
		if err := repository.Close(a.Redis); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close database")
	}
}

func prepareDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			return fmt.Errorf("create exports dir: %w", err)
		}
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := db.SyncCourts(ctx, cfg.Courts, clock.Now()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync courts: %w", err)
	}
	if err := db.SyncPricingRules(ctx, cfg.PricingRules); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync pricing rules: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// the failover queue keeps probing, so the client stays
		logger.Warn().Err(err).Msg("redis unavailable, delay queue starts on memory")
		return client
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDelayQueue(cfg *config.Config, client *redis.Client, clock clockwork.Clock, logger *zerolog.Logger) domain.DelayQueue {
	fallback := repository.NewMemoryDelayQueue()
	if client == nil {
		return fallback
	}
	primary := repository.NewRedisDelayQueue(client, cfg.Redis.QueueKey)
	return repository.NewFailoverDelayQueue(primary, fallback, clock, logger)
}
