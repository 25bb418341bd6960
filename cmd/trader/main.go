package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-leverage-trader/internal/trader/config"
	delivery "golang-leverage-trader/internal/trader/delivery/http"
	"golang-leverage-trader/internal/trader/repository"
	"golang-leverage-trader/internal/trader/service"
	"golang-leverage-trader/pkg/logger"
	"golang-leverage-trader/pkg/postgres"
	"golang-leverage-trader/pkg/redis"
	"golang-leverage-trader/pkg/telegram"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"google.golang.org/genai"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the trader service",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Trader Service", logger.StringField("name", cfg.App.Name))

	// Initialize database
	db, err := postgres.NewDB(postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize the strategy oracle
	genAiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Gemini.APIKey,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize Gemini client", logger.ErrorField(err))
	}
	oracle, err := repository.NewGeminiOracleRepository(cfg, appLogger, genAiClient)
	if err != nil {
		appLogger.Fatal("Failed to initialize strategy oracle", logger.ErrorField(err))
	}

	// Initialize the exchange gateway
	exchange, err := repository.NewBinanceFuturesRepository(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize exchange gateway", logger.ErrorField(err))
	}

	telegramNotifier, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
	}

	// Initialize repositories and services
	auditRepo := repository.NewAuditLogRepository(db.DB)
	snapshotRepo := repository.NewPositionSnapshotRepository(db.DB)
	eventPublisher := repository.NewTradeEventRepository(redisClient.Client, cfg.Redis.StreamMaxLen)

	riskEngine := service.NewRiskEngine(&cfg.Risk)
	orchestrator := service.NewOrchestrator(cfg, appLogger, riskEngine, oracle,
		exchange, exchange, auditRepo, snapshotRepo, eventPublisher, telegramNotifier)
	defer orchestrator.Close()

	// Initialize the HTTP API
	e := echo.New()
	e.HideBanner = true
	traderHandler := delivery.NewTraderHandler(orchestrator, appLogger)
	traderHandler.RegisterRoutes(e.Group("/api/v1/trader"))

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", logger.ErrorField(err))
		}
	}()

	appLogger.Info("Trader service started. Waiting for commands...")

	<-ctx.Done()

	appLogger.Info("Shutting down trader service...")
	orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", logger.ErrorField(err))
	}
	appLogger.Info("Trader service stopped.")
}

func main() {
	rootCmd := &cobra.Command{Use: "trader"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing trader CLI: %s\n", err)
		os.Exit(1)
	}
}
