package main

import (
	"context"
	"log" // standard log only for fatal errors before the logger is set up
	"os/signal"
	"syscall"
	"time"

	"signaltrader/config"
	"signaltrader/internal/adapters/binance"
	"signaltrader/internal/adapters/logger"
	"signaltrader/internal/adapters/sqlite"
	"signaltrader/internal/analyzer"
	"signaltrader/internal/console"
	"signaltrader/internal/engine"
	"signaltrader/internal/monitor"
	"signaltrader/internal/providers"
	"signaltrader/internal/risk"

	"signaltrader/internal/ports"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize repository
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize execution venue
	venue, err := binance.New(binance.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize execution venue: %v", err)
	}
	if err := venue.Ping(ctx); err != nil {
		appLogger.Warn(ctx, "venue ping failed at startup", map[string]interface{}{"error": err.Error()})
	}

	// 5. Parser and classifier from pattern/keyword tables
	patterns, err := config.LoadPatternTables(cfg.PatternsPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load pattern tables: %v", err)
	}
	keywords, err := config.LoadKeywordTables(cfg.KeywordsPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load keyword tables: %v", err)
	}
	parser, err := analyzer.NewParser(analyzer.ParserConfig{
		Tables:          patterns,
		SymbolAliases:   cfg.SymbolAliases,
		SymbolWhitelist: cfg.SymbolWhitelist,
		SymbolBlacklist: cfg.SymbolBlacklist,
		HighRisk:        cfg.HighRisk,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to build signal parser: %v", err)
	}
	classifier, err := analyzer.NewClassifier(analyzer.ClassifierConfig{Keywords: keywords, Parser: parser})
	if err != nil {
		log.Fatalf("FATAL: Failed to build command classifier: %v", err)
	}

	// 6. Sizing calculator
	mode, value, err := risk.ParseLotPolicy(cfg.LotPolicy)
	if err != nil {
		log.Fatalf("FATAL: Invalid lot policy: %v", err)
	}
	sizer, err := risk.NewCalculator(risk.Config{
		Mode:        mode,
		Value:       value,
		AccountSize: cfg.AccountSize,
		SplitRatio:  cfg.SplitRatio,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to build sizing calculator: %v", err)
	}

	// 7. Lifecycle engine
	eng, err := engine.New(cfg, appLogger, venue, repo, repo, repo, parser, classifier, sizer)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 8. Position monitor
	mon := monitor.New(cfg, appLogger, venue, eng)
	go mon.Start(ctx)

	// 9. Message sources
	var sources []ports.MessageSource
	if cfg.ReplayPath != "" {
		src, err := providers.Build("replay", cfg.ReplayPath, appLogger)
		if err != nil {
			log.Fatalf("FATAL: Failed to build replay source: %v", err)
		}
		sources = append(sources, src)
	}
	dispatcher := providers.NewDispatcher(appLogger, eng, sources...)
	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("FATAL: Failed to start message sources: %v", err)
	}

	// 10. Operator console
	consoleSrv := console.NewServer(cfg.ConsoleAddr, appLogger, eng)
	go func() {
		if err := consoleSrv.Start(ctx); err != nil {
			appLogger.Error(ctx, err, "console server exited")
			stop()
		}
	}()

	appLogger.Info(ctx, "signaltrader running", map[string]interface{}{
		"console": cfg.ConsoleAddr, "testnet": cfg.IsTestnet,
	})

	<-ctx.Done()
	appLogger.Info(context.Background(), "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dispatcher.Stop(shutdownCtx)
	if err := consoleSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(context.Background(), err, "console shutdown failed")
	}
	appLogger.Info(context.Background(), "shutdown complete", nil)
}
