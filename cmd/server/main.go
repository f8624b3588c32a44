package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/handlers"
	"github.com/prompt-refiner-go/internal/i18n"
	"github.com/prompt-refiner-go/internal/middleware"
	"github.com/prompt-refiner-go/internal/orchestrator"
	"github.com/prompt-refiner-go/internal/prompts"
	"github.com/prompt-refiner-go/internal/services/ai"
	"github.com/prompt-refiner-go/internal/services/auth"
	"github.com/prompt-refiner-go/internal/services/storage"
	"github.com/prompt-refiner-go/internal/services/usage"
	"github.com/prompt-refiner-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting prompt refiner...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Initialize usage store
	usageStore, err := usage.NewStore(ctx, &cfg.Usage, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize usage store")
	}
	defer usageStore.Close()

	limiter := usage.NewLimiter(usageStore, cfg.Usage.DailyLimit, log).WithObserver(metrics)

	// Initialize conversation store
	conversations := storage.NewMemoryStore(&cfg.Conversations, log)

	// Initialize AI service
	aiService, err := ai.NewService(ctx, &cfg.Completion, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize completion service")
	}

	// Load prompt templates
	library := prompts.Default()
	if cfg.Prompts.Directory != "" {
		n, err := library.LoadDir(cfg.Prompts.Directory)
		if err != nil {
			log.WithError(err).Fatal("Failed to load prompt templates")
		}
		log.WithField("templates", n).Info("Prompt templates loaded")
	}

	// Initialize identity verifier
	verifier, err := auth.NewVerifier(&cfg.Auth, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize identity verifier")
	}

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	defer rateLimiter.Stop()

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	orch := orchestrator.New(conversations, limiter, aiService, library, metrics, log)

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Start API server
	api := handlers.NewAPIHandler(orch, verifier, rateLimiter, localizer, metrics, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Router(cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		log.WithField("port", cfg.Server.Port).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Start Telegram bot if enabled
	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.WithError(err).Fatal("Failed to create bot")
		}
		bot.Debug = cfg.Logging.Level == "debug"
		log.WithField("username", bot.Self.UserName).Info("Bot authorized")

		telegram := handlers.NewTelegramHandler(bot, orch, rateLimiter, localizer, metrics, cfg.I18n.DefaultLanguage, log)
		go runTelegram(ctx, bot, telegram, cfg.Telegram.UpdateTimeout, log)
	}

	// Start periodic tasks
	go startPeriodicTasks(ctx, orch, metrics)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	// Cancel context to stop all goroutines
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Metrics server shutdown failed")
		}
	}

	log.Info("Server stopped")
}

// runTelegram long-polls for updates until ctx is cancelled. Each update is
// handled on its own goroutine; turns for one user are serialized by the
// orchestrator.
func runTelegram(ctx context.Context, bot *tgbotapi.BotAPI, handler *handlers.TelegramHandler, timeout int, log *logrus.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout

	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go func(update tgbotapi.Update) {
				if err := handler.HandleUpdate(ctx, update); err != nil {
					log.WithError(err).Error("Failed to handle update")
				}
			}(update)
		}
	}
}

// startPeriodicTasks starts periodic background tasks
func startPeriodicTasks(ctx context.Context, orch *orchestrator.Orchestrator, metrics *middleware.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetActiveConversations(float64(orch.ActiveConversations()))
		}
	}
}
