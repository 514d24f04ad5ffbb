package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/pricewatch/internal/app"
	"github.com/rewired-gh/pricewatch/internal/buffer"
	"github.com/rewired-gh/pricewatch/internal/config"
	"github.com/rewired-gh/pricewatch/internal/finnhub"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/metrics"
	"github.com/rewired-gh/pricewatch/internal/session"
	"github.com/rewired-gh/pricewatch/internal/storage"
	"github.com/rewired-gh/pricewatch/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	symbolFlag = flag.String("symbol", "", "Symbol to watch at startup (overrides session.symbol)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if cached, err := store.HistoryBySymbol(); err != nil {
		logger.Warn("Failed to read cached history: %v", err)
	} else {
		for sym, records := range cached {
			logger.Debug("Cached history: %s has %d ticks", sym, len(records))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg)
	}

	var (
		notifier       session.Notifier = app.LogNotifier{}
		telegramClient *telegram.Client
	)
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled; alerts go to the log")
	}

	mgr := session.New(
		session.Config{
			Token:          cfg.Finnhub.Token,
			ReconnectDelay: cfg.Session.ReconnectDelay,
			HistoryCap:     cfg.Storage.HistoryCap,
		},
		session.Deps{
			Dialer:   finnhub.NewDialer(cfg.Finnhub.WSURL),
			Buffer:   buffer.New(cfg.Session.BufferSize),
			History:  store,
			Alerts:   store,
			Notifier: notifier,
			Metrics:  m,
		},
	)
	commands := app.New(store, mgr, cfg.Alerts.MaxPerSymbol)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, commands.HandleCommand)
	}

	symbol := cfg.Session.Symbol
	if *symbolFlag != "" {
		symbol = *symbolFlag
	}
	view, err := mgr.SwitchSymbol(symbol)
	switch {
	case errors.Is(err, session.ErrMissingToken):
		// Stay up so /status can report the failure.
		logger.Error("Streaming disabled: %v", err)
	case err != nil:
		logger.Fatal("Failed to start session: %v", err)
	default:
		logger.Info("Watching %s (buffer %d, %d cached ticks, %d alerts, reconnect delay %v)",
			view.Symbol, cfg.Session.BufferSize, len(view.History), len(view.Alerts), cfg.Session.ReconnectDelay)
	}
	if telegramClient != nil {
		if err := telegramClient.SendStatus(commands.HandleCommand("status", "")); err != nil {
			logger.Warn("Failed to send startup status to Telegram: %v", err)
		}
	}

	<-sigChan
	logger.Info("Shutdown signal received, cleaning up...")
	mgr.Shutdown()
	cancel()
	logger.Info("Service stopped")
}
