package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/aimtravel/config"
	"github.com/Domenick1991/aimtravel/internal/bootstrap"
	"github.com/Domenick1991/aimtravel/internal/email"
	"github.com/Domenick1991/aimtravel/internal/kafka"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/Domenick1991/aimtravel/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		l := logger.WithComponent("worker")
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	log := logger.WithComponent("worker")

	if !cfg.Kafka.Enabled() && !cfg.Database.Enabled() {
		log.Fatal().Msg("worker needs kafka brokers or a database; nothing to do")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PaymentEventsTopic)
		defer producer.Close()

		consumer := kafka.NewBookingEventConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.BookingEventsTopic)
		defer consumer.Close()

		emailSender := email.NewSender()
		go func() {
			if err := consumer.Run(ctx, emailSender.Send); err != nil {
				log.Error().Err(err).Msg("consumer stopped")
				stop()
			}
		}()
		log.Info().Str("topic", cfg.Kafka.BookingEventsTopic).Msg("consuming booking events")
	}

	var sweeps []bootstrap.Sweep
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()

		var opts []booking.BookingServiceOption
		if producer != nil {
			opts = append(opts, booking.WithProducer(producer, cfg.Kafka.BookingEventsTopic))
		}
		opts = append(opts, booking.WithPaymentTTL(time.Duration(cfg.Booking.PaymentTTLMinutes)*time.Minute))

		// Expiry never opens payment sessions, so no provider is wired.
		bookingService := booking.NewBookingService(
			repository.NewTicketRepository(pool),
			repository.NewOrderRepository(pool),
			repository.NewFlightRepository(pool),
			nil,
			opts...,
		)
		sweeps = append(sweeps, bootstrap.Sweep{
			Name:     "unpaid-tickets",
			Interval: time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := bookingService.ExpireUnpaidTickets(ctx)
				return err
			},
		})
	}

	done := bootstrap.StartSweeps(ctx, sweeps...)
	<-ctx.Done()
	log.Info().Msg("shutting down")
	<-done
}
