package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderapi/internal/config"
	"orderapi/internal/handler"
	"orderapi/internal/infra/db"
	"orderapi/internal/infra/event"
	"orderapi/internal/infra/memory"
	infraRedis "orderapi/internal/infra/redis"
	infraRepo "orderapi/internal/infra/repository"
	"orderapi/internal/logger"
	"orderapi/internal/metrics"
	"orderapi/internal/middleware"
	repo "orderapi/internal/repository"
	"orderapi/internal/server"
	"orderapi/internal/usecase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "orderapi"

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

// STORAGE_DRIVER で切り替わる部分
type storage struct {
	products  repo.ProductRepository
	orders    repo.OrderRepository
	inventory repo.InventoryRepository
	tx        repo.TransactionManager
	checks    map[string]handler.Checker
	close     func()
}

func openStorage(cfg config.Config, log *zap.Logger) (storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		st := memory.NewStore(cfg.LockTimeout)
		return storage{
			products:  st.Products(),
			orders:    st.Orders(),
			inventory: st.Inventory(),
			tx:        st,
			checks:    map[string]handler.Checker{},
			close:     func() {},
		}, nil
	}

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return storage{}, err
	}
	if err := db.Migrate(gormDB); err != nil {
		return storage{}, err
	}

	//Repository（GORM実装）生成
	return storage{
		products:  infraRepo.NewProductGormRepository(gormDB),
		orders:    infraRepo.NewOrderGormRepository(gormDB),
		inventory: infraRepo.NewInventoryGormRepository(gormDB),
		tx:        infraRepo.NewTxManagerGorm(gormDB, cfg.LockTimeout),
		checks: map[string]handler.Checker{
			"postgres": func(ctx context.Context) error { return db.Ping(ctx, gormDB) },
		},
		close: func() {
			if sqlDB, err := gormDB.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

func main() {
	//.env は無くてもよい（環境変数を直接渡す運用）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(serviceName, cfg.IsProd())
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	//冪等キー：Redis があればそちら
	var idem repo.IdempotencyStore = memory.NewIdempotencyStore()
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		idem = infraRedis.NewIdempotencyStore(rdb, serviceName+":idem:")
		st.checks["redis"] = func(ctx context.Context) error { return infraRedis.Ping(ctx, rdb) }
	}

	//注文イベント：AMQP_URL が無ければログだけ
	var publisher usecase.EventPublisher = event.NewLogPublisher(log)
	if cfg.AMQPURL != "" {
		conn, ch, err := event.Connect(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()
		publisher = event.NewRabbitPublisher(ch, cfg.AMQPExchange, log)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg, serviceName)

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}

	//Usecase生成
	productUC := usecase.NewProductUsecase(st.products, st.inventory, st.tx, log)
	orderUC := usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Intake:         usecase.NewOrderIntake(st.products),
		Reservation:    usecase.NewStockReservation(st.tx, clock),
		Orders:         st.orders,
		Idempotency:    idem,
		Publisher:      publisher,
		Metrics:        m,
		Clock:          clock,
		IDs:            idGen,
		Log:            log,
		ReportLocation: cfg.ReportLocation,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	limiter := middleware.NewIPRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	go limiter.Run(ctx)

	//Handler生成
	e := server.New(log, m)
	server.RegisterRoutes(e, server.Handlers{
		Product:      handler.NewProductHandler(productUC),
		Order:        handler.NewOrderHandler(orderUC),
		Health:       handler.NewHealthHandler(st.checks, log),
		OrderPlaceMW: []echo.MiddlewareFunc{limiter.Middleware(log)},
	}, reg)

	//Server起動
	addr := cfg.Port
	if addr == "" || addr[0] != ':' {
		addr = ":" + addr
	}
	return server.Start(ctx, e, addr, log)
}
