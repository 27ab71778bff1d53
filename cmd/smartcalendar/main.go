package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smart-calendar/internal/assistant"
	"smart-calendar/internal/bot"
	"smart-calendar/internal/command"
	"smart-calendar/internal/config"
	"smart-calendar/internal/recurrence"
	"smart-calendar/internal/repository"
	"smart-calendar/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := repository.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	itemRepo := repository.NewItemRepository(db)
	occurrenceRepo := repository.NewOccurrenceRepository(db)

	engine := recurrence.NewEngine(cfg.MaxCatchUp, cfg.SnoozeOptions)
	categorySvc := service.NewCategoryService(categoryRepo)
	itemSvc := service.NewItemService(itemRepo, occurrenceRepo, categoryRepo, cfg.Location)
	summarySvc := service.NewSummaryService(itemRepo, occurrenceRepo, categoryRepo, cfg.Location)
	occSvc := service.NewOccurrenceService(engine, itemRepo, occurrenceRepo, service.OccurrenceOptions{
		Grace:     cfg.GraceWindow,
		MissAfter: cfg.MissAfter,
		Location:  cfg.Location,
	}, logger)

	chat := assistant.New(assistant.Config{
		APIKey:  cfg.AIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Model:   cfg.AIModel,
	}, command.NewParser(cfg.Location))
	if !chat.Enabled() {
		logger.Info("assistant disabled, AI_API_KEY is not set")
	}

	telegramBot, err := bot.New(cfg, bot.Deps{
		Users:       userRepo,
		Categories:  categorySvc,
		Items:       itemSvc,
		Occurrences: occSvc,
		Summaries:   summarySvc,
		Assistant:   chat,
	}, logger)
	if err != nil {
		return err
	}
	occSvc.SetNotifier(telegramBot)

	recovered, err := occSvc.RecoverMissed(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		logger.Info("restart catch-up", "items", len(recovered))
		telegramBot.SendRecoveryNotices(recovered)
	}

	scheduler := service.NewSchedulerService(cfg.Location, cfg.JobTimeout, logger)
	if _, err := scheduler.ScheduleInterval("dispatch", cfg.DispatchInterval, func(ctx context.Context) error {
		_, err := occSvc.DispatchDue(ctx, time.Now())
		return err
	}); err != nil {
		return err
	}
	if _, err := scheduler.ScheduleDaily("summary", cfg.SummaryTime, telegramBot.SendDailyReports); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("smart calendar bot started", "timezone", cfg.Location.String(), "dispatch", cfg.DispatchInterval)
	return telegramBot.Start(ctx)
}
