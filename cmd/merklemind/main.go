// MerkleMind - Telegram-governed perpetuals trading
//
// Channel members vote on a long/short recommendation in a Telegram poll.
// Once enough votes are in and "Yes" leads, the trade is placed on Merkle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/merklemind/advisor"
	"github.com/web3guy0/merklemind/api"
	"github.com/web3guy0/merklemind/bot"
	"github.com/web3guy0/merklemind/core"
	"github.com/web3guy0/merklemind/exec"
	"github.com/web3guy0/merklemind/execution"
	"github.com/web3guy0/merklemind/feeds"
	"github.com/web3guy0/merklemind/internal/config"
	"github.com/web3guy0/merklemind/risk"
	"github.com/web3guy0/merklemind/storage"
)

const version = "1.0.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("token", config.Redact(cfg.TelegramToken)).
		Int64("channel", cfg.TelegramChannel).
		Int("threshold", cfg.TradeThreshold).
		Bool("dry_run", cfg.DryRun).
		Msg("🗳️ MerkleMind starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage
	db, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	ledger := core.NewLedger(db)
	balances, err := db.DepositBalances()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to restore deposits")
	}
	ledger.Restore(balances)
	log.Info().Int("depositors", len(balances)).Str("total", ledger.Total().String()).Msg("✅ Ledger restored")

	// 2. Venue client behind a circuit breaker
	breaker := risk.NewCircuitBreaker(cfg.VenueMaxFailures, cfg.VenueCooldown)
	venue, err := exec.NewClient(exec.Config{
		BaseURL:    cfg.MerkleAPIURL,
		PrivateKey: cfg.VenuePrivateKey,
		DryRun:     cfg.DryRun,
		OrderSize:  cfg.OrderSizeUSDC,
		Collateral: cfg.OrderCollateralUSDC,
		Timeout:    cfg.OrderTimeout,
		Breaker:    breaker,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize venue client")
	}

	// 3. Price feed and advisor (optional)
	var feed *feeds.PriceFeed
	if cfg.PriceFeedWSURL != "" {
		feed = feeds.NewPriceFeed(cfg.PriceFeedWSURL)
	}

	var picker *advisor.Advisor
	if cfg.OpenAIAPIKey != "" {
		var live advisor.LivePrices
		if feed != nil {
			live = feed
		}
		picker = advisor.New(
			advisor.NewMarketData(cfg.MerkleAPIURL),
			advisor.NewChatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel),
			live,
		)
		log.Info().Str("model", cfg.OpenAIModel).Msg("✅ Advisor enabled")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, advisor disabled")
	}

	// 4. Telegram bot
	telegramBot, err := bot.NewTelegramBot(ctx, bot.Options{
		Token:          cfg.TelegramToken,
		ChannelID:      cfg.TelegramChannel,
		AdminUserID:    cfg.AdminUserID,
		CallTimeout:    cfg.TelegramTimeout,
		StartupTimeout: cfg.BotStartupTimeout,
		LLMTimeout:     cfg.LLMTimeout,
		DryRun:         venue.IsDryRun(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start Telegram bot")
	}

	// 5. Voting core
	executor := execution.NewExecutor(telegramBot, venue, cfg.TelegramChannel, cfg.OrderTimeout, db)
	session := core.NewSession(cfg.TradeThreshold)
	polls := core.NewPollManager(telegramBot, session, db, cfg.PollAnonymous)
	engine := core.NewEngine(session, polls, telegramBot, executor, cfg.TelegramChannel)

	telegramBot.SetHandlers(engine, ledger)
	telegramBot.SetTradeStats(executor)
	if picker != nil {
		telegramBot.SetAdvisor(picker)
	}
	monitors := bot.Monitors{Stats: db, Breaker: breaker}
	if feed != nil {
		monitors.Feed = feed
	}
	telegramBot.SetMonitors(monitors)

	// 6. HTTP API
	serverCfg := api.ServerConfig{
		Addr:         cfg.HTTPAddr,
		AdminToken:   cfg.AdminAPIToken,
		Engine:       engine,
		Ledger:       ledger,
		Trader:       venue,
		History:      db,
		Breaker:      breaker,
		OrderTimeout: cfg.OrderTimeout,
		LLMTimeout:   cfg.LLMTimeout,
	}
	if picker != nil {
		serverCfg.Advisor = picker
	}
	if feed != nil {
		serverCfg.Feed = feed
	}
	server, err := api.NewServer(serverCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build HTTP server")
	}

	// 7. Startup position check
	reconcileCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	report, err := execution.NewReconciler(venue, db).Reconcile(reconcileCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Position reconciliation failed")
	} else {
		log.Info().
			Int("open_positions", len(report.OpenPositions)).
			Int("missing", len(report.Missing)).
			Msg("✅ Positions reconciled")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return telegramBot.Run(gctx) })
	group.Go(func() error { return server.Start(gctx) })
	if feed != nil {
		group.Go(func() error { return feed.Run(gctx) })
	}

	log.Info().Str("http", server.Addr()).Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
	}

	log.Info().Interface("executor", executor.GetMetrics()).Msg("🛑 Shutting down...")
	log.Info().Msg("👋 Goodbye!")
}
