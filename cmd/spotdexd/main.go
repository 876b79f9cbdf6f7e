package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openclob/spotdex/params"
	"github.com/openclob/spotdex/pkg/api"
	"github.com/openclob/spotdex/pkg/exchange/engine"
	"github.com/openclob/spotdex/pkg/exchange/instrument"
	"github.com/openclob/spotdex/pkg/exchange/ledger"
	"github.com/openclob/spotdex/pkg/storage"
	"github.com/openclob/spotdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewTeeLogger(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	db, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Node.DataDir, "err", err)
	}
	defer db.Close()

	// ---- Ledger ----
	// Balances are reloaded from disk on boot.
	book, err := ledger.New(db)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}

	// ---- Instruments ----
	registry := instrument.NewRegistry(cfg.Market.QuoteAsset)
	if cfg.Market.ListingFile != "" {
		entries, err := params.LoadListing(cfg.Market.ListingFile)
		if err != nil {
			sugar.Fatalw("listing_load_failed", "path", cfg.Market.ListingFile, "err", err)
		}
		for _, e := range entries {
			if err := registry.Register(e.Ticker, e.Base); err != nil {
				sugar.Fatalw("instrument_register_failed", "ticker", e.Ticker, "err", err)
			}
		}
	}
	sugar.Infow("instruments_listed",
		"count", registry.Count(),
		"quote_asset", registry.Quote())

	// ---- Engine ----
	trades := storage.NewTradeStore(db)
	eng := engine.New(registry, book, trades, sugar)

	// ---- API Server ----
	apiServer := api.NewServer(eng, trades, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
