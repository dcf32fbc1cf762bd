package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mpesa-subscription-billing/internal/config"
	pg "mpesa-subscription-billing/internal/infra/db/postgres"
	"mpesa-subscription-billing/internal/infra/logging"
	"mpesa-subscription-billing/internal/infra/metrics"
	"mpesa-subscription-billing/internal/infra/notify"
	"mpesa-subscription-billing/internal/infra/payment"
	red "mpesa-subscription-billing/internal/infra/redis"
	"mpesa-subscription-billing/internal/infra/sched"
	"mpesa-subscription-billing/internal/infra/security"
	"mpesa-subscription-billing/internal/infra/web"
	"mpesa-subscription-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, simulate fallback)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	events := red.NewEventPublisher(redisClient)
	locker := red.NewLockerFromClient(redisClient)

	// ---- Credential encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	cipher, err := security.NewCredentialCipher(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("credential cipher init failed")
	}

	// ---- Repositories ----
	intentRepo := pg.NewIntentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	businessRepo := pg.NewBusinessRepo(pool, cipher)
	userRepo := pg.NewUserRepo(pool)
	projectionRepo := pg.NewProjectionRepo(pool)
	notificationRepo := pg.NewNotificationRepo(pool)

	// ---- Gateway ----
	gateway := payment.NewDarajaGateway(cfg.Daraja, cfg.Runtime.Dev, logger)

	// ---- Notifications ----
	var bot *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram bot unavailable, ops alerts disabled")
			bot = nil
		}
	}
	mailer := notify.NewMailer(cfg.Mail)
	notifier := notify.NewNotifier(notificationRepo, userRepo, mailer, bot, cfg.Telegram.AdminChatIDs, logger)

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(intentRepo, subRepo, planRepo, businessRepo, gateway, logger)
	activationUC := usecase.NewActivationUseCase(
		intentRepo, subRepo, planRepo, businessRepo, userRepo, projectionRepo,
		paymentUC, tm, notifier, events, logger,
	)
	statusUC := usecase.NewStatusUseCase(intentRepo, projectionRepo, businessRepo, gateway, activationUC, logger)
	adminUC := usecase.NewAdminUseCase(projectionRepo, logger)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Web.AdminSecret, cfg.Web.SecureCookie, cfg.Web.SessionTTL)
	server := web.NewServer(paymentUC, activationUC, statusUC, adminUC, auth, cfg.Web.AdminSecret, cfg.Web.Port, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Stale payment reconciler ----
	reconciler := sched.NewPaymentReconciler(statusUC, intentRepo, locker, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
}
