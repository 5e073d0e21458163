package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	attemptpostgres "github.com/frahmantamala/land-payment/internal/attempt/postgres"
	"github.com/frahmantamala/land-payment/internal/core/events"
	"github.com/frahmantamala/land-payment/internal/dispatch"
	"github.com/frahmantamala/land-payment/internal/notification"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
	paymentpostgres "github.com/frahmantamala/land-payment/internal/payment/postgres"
	paymentredis "github.com/frahmantamala/land-payment/internal/payment/redis"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
	purchasepostgres "github.com/frahmantamala/land-payment/internal/purchase/postgres"
	userpkg "github.com/frahmantamala/land-payment/internal/user"
	userpostgres "github.com/frahmantamala/land-payment/internal/user/postgres"
)

// Core is the reconciliation graph shared by the server, the worker and the
// operator commands.
type Core struct {
	Config     *internal.Config
	SQL        *sqlx.DB
	Gorm       *gorm.DB
	Redis      *goredis.Client
	Queue      *asynq.Client
	Bus        *events.EventBus
	Dispatcher *dispatch.Dispatcher
	UserRepo   userpkg.RepositoryAPI
	Users      *userpkg.Service
	Purchases  *purchasepkg.Service
	Payments   *paymentpkg.Service
	Logger     *slog.Logger
}

func buildCore(cfg *internal.Config, lg *slog.Logger) (*Core, error) {
	sqlDB, gormDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gatewayCfg, err := gatewayConfig(cfg.Gateway)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	queue := asynq.NewClient(queueRedis(cfg.Redis))

	bus := events.NewEventBus(lg)
	dispatcher := dispatch.NewDispatcher(queue, dispatchOptions(cfg.Queue), lg)
	dispatcher.Register(bus)

	userRepo := userpostgres.NewUserRepository(sqlDB)
	users := userpkg.NewService(userRepo, lg)
	purchases := purchasepkg.NewService(purchasepostgres.NewPurchaseRepository(gormDB), lg)
	ledger := attemptpkg.NewLedger(attemptpostgres.NewAttemptRepository(gormDB), lg)

	payments := paymentpkg.NewService(
		paymentpostgres.NewPaymentRepository(gormDB),
		ledger,
		paymentgateway.NewClient(gatewayCfg, lg),
		purchases,
		users,
		bus,
		paymentpkg.Config{
			Currency:      cfg.Gateway.Currency,
			RedirectURL:   cfg.Gateway.RedirectURL,
			PendingTTL:    cfg.Sweep.PendingTTL,
			StuckAfter:    cfg.Sweep.StuckAfter,
			AbandonAfter:  cfg.Sweep.AbandonAfter,
			DispatchGrace: cfg.Sweep.DispatchGrace,
		},
		lg,
	)
	if cfg.Webhook.RateLimit > 0 {
		payments.WithLimiter(paymentredis.NewWindowLimiter(redisClient, cfg.Webhook.RateLimit, cfg.Webhook.RateWindow))
	}

	return &Core{
		Config:     cfg,
		SQL:        sqlDB,
		Gorm:       gormDB,
		Redis:      redisClient,
		Queue:      queue,
		Bus:        bus,
		Dispatcher: dispatcher,
		UserRepo:   userRepo,
		Users:      users,
		Purchases:  purchases,
		Payments:   payments,
		Logger:     lg,
	}, nil
}

func (c *Core) Close() {
	if err := c.Queue.Close(); err != nil {
		c.Logger.Error("queue client close error", "error", err)
	}
	if err := c.Redis.Close(); err != nil {
		c.Logger.Error("redis close error", "error", err)
	}
	if err := c.SQL.Close(); err != nil {
		c.Logger.Error("database close error", "error", err)
	}
}

// initDB opens one pgx pool and shares it between sqlx and gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, *gorm.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: dbConn.DB}), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return dbConn, gormDB, nil
}

func queueRedis(cfg internal.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func gatewayConfig(cfg internal.GatewayConfig) (paymentgateway.Config, error) {
	maxAmount, err := cfg.MaxAmountDecimal()
	if err != nil {
		return paymentgateway.Config{}, fmt.Errorf("gateway config: %w", err)
	}
	return paymentgateway.Config{
		BaseURL:        cfg.BaseURL,
		SecretKey:      cfg.SecretKey,
		WebhookHash:    cfg.WebhookHash,
		ClientID:       cfg.ClientID,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		MaxAmount:      maxAmount,
		Currency:       cfg.Currency,
		RedirectURL:    cfg.RedirectURL,
		PaymentOptions: cfg.PaymentOptionList(),
		Title:          cfg.Title,
		LogoURL:        cfg.LogoURL,
	}, nil
}

// newNotifier publishes to kafka when brokers are configured and logs
// otherwise. The returned func releases the producer.
func newNotifier(cfg internal.KafkaConfig, lg *slog.Logger) (notification.Sender, func() error, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		lg.Warn("no kafka brokers configured, notifications are logged only")
		return notification.NewLogNotifier(lg), func() error { return nil }, nil
	}
	producer, err := notification.NewSyncProducer(brokers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}
	n := notification.NewKafkaNotifier(producer, cfg.NotificationTopic, lg)
	return n, n.Close, nil
}

func dispatchOptions(cfg internal.QueueConfig) dispatch.Options {
	return dispatch.Options{
		Queue:      cfg.Name,
		MaxRetry:   cfg.MaxRetry,
		RetryDelay: cfg.RetryDelay,
		Retention:  cfg.Retention,
	}
}
