package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticketbot/internal/api/http"
	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/discord"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/service"
	"github.com/spec-kit/ticketbot/internal/worker"
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file (defaults to ./.env)")
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ticketbot stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger = logger.With(zap.String("app", cfg.App.Name), zap.String("version", cfg.App.Version))

	backend, err := persistence.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer backend.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	var publisher events.Publisher
	if cfg.Events.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			return fmt.Errorf("connect event feed: %w", err)
		}
		defer rabbit.Close() //nolint:errcheck
		publisher = rabbit
	}
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, publisher, logger))

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: backend.Tickets,
		Channels:   discord.NewChannelAdapter(session),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	go worker.NewReconcileWorker(tickets, cfg.Sweep, logger).Run(ctx)

	if cfg.Ops.Enabled {
		app := newOpsServer(cfg, backend, tickets, metrics, logger)
		go func() {
			if err := app.Listen(cfg.Ops.Addr()); err != nil {
				logger.Error("ops server stopped", zap.Error(err))
			}
		}()
		defer func() {
			if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
				logger.Warn("ops server shutdown", zap.Error(err))
			}
		}()
	}

	bot := discord.NewBot(session, tickets, cfg.Discord, metrics, logger)
	return bot.Run(ctx)
}

func newOpsServer(cfg *config.Config, backend *persistence.Backend, tickets *service.TicketService, metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	authService := service.NewAuthService(cfg.Ops, logger.Named("ops"))
	if !authService.Enabled() {
		logger.Warn("OPS_ADMIN_PASSWORD_HASH not set; operator login disabled")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger.Named("ops"), metrics, cfg.Ops.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, string(backend.Name), backend.Tickets),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(tickets, cfg.Sweep.OrphanAge),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
		Metrics:        metrics,
	})
	return app
}
