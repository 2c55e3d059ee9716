package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/qx-signal-bot/internal/broker/qx"
	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/martingale"
	"github.com/kirillm/qx-signal-bot/internal/orchestrator"
	"github.com/kirillm/qx-signal-bot/internal/risk"
	sigparser "github.com/kirillm/qx-signal-bot/internal/signal"
	"github.com/kirillm/qx-signal-bot/internal/storage"
	"github.com/kirillm/qx-signal-bot/internal/telegram"
	"github.com/kirillm/qx-signal-bot/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := utils.NewLogger("info")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info().Str("mode", cfg.Broker.Mode).Msg("🚀 Starting signal bot")

	// Профиль накладывается до создания компонентов: парсер, трекер и
	// риск-движок строятся от одних и тех же действующих лимитов
	if err := risk.ApplyProfile(&cfg.Risk); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply risk profile")
	}

	store, err := storage.NewPostgresStorage(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerClient := qx.NewClient(cfg.Broker, logger)
	if err := brokerClient.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to broker")
	}
	defer brokerClient.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create telegram bot")
	}

	riskEngine, err := risk.NewEngine(cfg.Risk, cfg.Trading, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create risk engine")
	}

	parser := sigparser.NewParser(cfg.Trading.AllowedAssets, cfg.Risk.MinSignalConfidence, cfg.Trading.DefaultDuration)
	tracker := martingale.NewTracker(martingale.Config{
		Enabled:            cfg.Risk.MartingaleEnabled,
		Multiplier:         cfg.Risk.MartingaleMultiplier,
		MaxSteps:           cfg.Risk.MaxMartingaleSteps,
		BalanceCeilingFrac: cfg.Risk.BalanceCeilingFrac,
	}, store, logger)

	listener := telegram.NewListener(api, cfg.Telegram.MonitoredChats, logger)
	notifier := telegram.NewNotifier(api, cfg.Telegram.NotifyChatID, logger)

	orch := orchestrator.New(cfg.Trading, parser, riskEngine, tracker, brokerClient, store, notifier, logger)

	// Нотификатор живёт дольше основного контекста, чтобы успеть
	// доставить сводку сессии после остановки
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	go func() {
		notifier.Run(notifyCtx)
		close(notifyDone)
	}()

	go listener.Run(ctx)

	if err := orch.Run(ctx, listener.Messages()); err != nil {
		stopNotify()
		<-notifyDone
		logger.Error().Err(err).Msg("❌ Orchestrator stopped with error")
		os.Exit(1)
	}

	stopNotify()
	<-notifyDone
	logger.Info().Msg("✅ Shutdown complete")
}
