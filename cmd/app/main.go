package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/aimtravel/api"
	"github.com/Domenick1991/aimtravel/config"
	"github.com/Domenick1991/aimtravel/internal/bootstrap"
	"github.com/Domenick1991/aimtravel/internal/cache"
	"github.com/Domenick1991/aimtravel/internal/kafka"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/notify"
	"github.com/Domenick1991/aimtravel/internal/payment"
	"github.com/Domenick1991/aimtravel/internal/ratelimit"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/Domenick1991/aimtravel/internal/service/booking"
	"github.com/Domenick1991/aimtravel/internal/service/flights"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := loadConfig()
	logger.Init(logger.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	log := logger.WithComponent("app")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		flightRepo repository.FlightRepository
		ticketRepo repository.TicketRepository
		orderRepo  repository.OrderRepository
	)
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("ping postgres")
		}
		flightRepo = repository.NewFlightRepository(pool)
		ticketRepo = repository.NewTicketRepository(pool)
		orderRepo = repository.NewOrderRepository(pool)
		log.Info().Str("host", cfg.Database.Host).Msg("using postgres storage")
	} else {
		flightRepo = repository.NewMemoryFlightRepository(repository.SeedFlights())
		ticketRepo = repository.NewMemoryTicketRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		log.Info().Msg("using in-memory flight dataset")
	}

	hub := notify.NewHub(cfg.Payment.SubscriberBufferSize)
	defer hub.Close()

	providerOpts := []payment.Option{payment.WithSink(hub)}
	flightOpts := []flights.FlightServiceOption{flights.WithDefaultPageSize(cfg.Booking.DefaultPageSize)}
	bookingOpts := []booking.BookingServiceOption{
		booking.WithCurrency(cfg.Payment.Currency),
		booking.WithPaymentTTL(time.Duration(cfg.Booking.PaymentTTLMinutes) * time.Minute),
		booking.WithLockTTL(time.Duration(cfg.Booking.FinalizeLockSecond) * time.Second),
	}

	if cfg.Redis.Enabled() {
		redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.SearchCacheTTL)*time.Second)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, searches will miss the cache")
		}
		flightOpts = append(flightOpts, flights.WithCache(redisCache))
		bookingOpts = append(bookingOpts, booking.WithLocker(redisCache))
	}

	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PaymentEventsTopic)
		defer producer.Close()
		if err := producer.CheckConnection(ctx); err != nil {
			log.Warn().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("kafka unreachable, events will be retried per publish")
		}
		providerOpts = append(providerOpts, payment.WithSink(producer))
		bookingOpts = append(bookingOpts, booking.WithProducer(producer, cfg.Kafka.BookingEventsTopic))
	}

	provider := payment.NewProvider(payment.Config{
		PublicURL:         cfg.HTTP.PublicURL,
		SuccessURL:        cfg.Payment.SuccessURL,
		CancelURL:         cfg.Payment.CancelURL,
		Currency:          cfg.Payment.Currency,
		SessionsPerSecond: cfg.Payment.SessionsPerSecond,
		SessionBurst:      cfg.Payment.SessionBurst,
	}, providerOpts...)

	flightService := flights.NewFlightService(flightRepo, flightOpts...)
	bookingService := booking.NewBookingService(ticketRepo, orderRepo, flightRepo, provider, bookingOpts...)

	health := bootstrap.NewHealth()
	router := api.NewRouter(api.Deps{
		Flights:  flightService,
		Booking:  bookingService,
		Payments: provider,
		Hub:      hub,
		Limiter: ratelimit.NewKeyedLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSec,
			BurstSize:         cfg.HTTP.Burst,
		}),
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
		Heartbeat:     time.Duration(cfg.Payment.HeartbeatSeconds) * time.Second,
		Ready:         health.Ready,
	})

	sessionTTL := time.Duration(cfg.Payment.SessionTTLMinutes) * time.Minute
	sweepEvery := time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute
	sweeps := []bootstrap.Sweep{{
		// Sessions live in this process, so only the app can expire them.
		Name:     "payment-sessions",
		Interval: sweepEvery,
		Run: func(ctx context.Context) error {
			if n := provider.Expire(ctx, sessionTTL); n > 0 {
				log.Info().Int("count", n).Msg("payment sessions expired")
			}
			return nil
		},
	}}
	if !cfg.Database.Enabled() {
		// With postgres the worker owns ticket expiry.
		sweeps = append(sweeps, bootstrap.Sweep{
			Name:     "unpaid-tickets",
			Interval: sweepEvery,
			Run: func(ctx context.Context) error {
				_, err := bookingService.ExpireUnpaidTickets(ctx)
				return err
			},
		})
	}

	if err := bootstrap.Run(ctx, cfg, router, health, sweeps...); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func loadConfig() *config.Config {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && os.Getenv("CONFIG_PATH") == "" {
		l := logger.WithComponent("app")
		l.Warn().Str("path", cfgPath).Msg("no config file, running with defaults")
		return config.Default()
	}
	if err != nil {
		l := logger.WithComponent("app")
		l.Fatal().Err(err).Msg("load config")
	}
	return cfg
}
