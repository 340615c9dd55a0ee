package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jensholdgaard/tradewatch/internal/api"
	"github.com/jensholdgaard/tradewatch/internal/bot"
	"github.com/jensholdgaard/tradewatch/internal/bot/commands"
	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/extract"
	"github.com/jensholdgaard/tradewatch/internal/health"
	"github.com/jensholdgaard/tradewatch/internal/leader"
	"github.com/jensholdgaard/tradewatch/internal/market"
	"github.com/jensholdgaard/tradewatch/internal/pipeline"
	"github.com/jensholdgaard/tradewatch/internal/runlock"
	"github.com/jensholdgaard/tradewatch/internal/scheduler"
	"github.com/jensholdgaard/tradewatch/internal/source"
	"github.com/jensholdgaard/tradewatch/internal/store"
	"github.com/jensholdgaard/tradewatch/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/tradewatch/internal/store/memory"
	_ "github.com/jensholdgaard/tradewatch/internal/store/postgres"
)

var version = "dev"

type options struct {
	configPath string
	once       bool
	exportPath string
	format     string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	flag.BoolVar(&opts.once, "once", false, "run one scrape and retention sweep, then exit")
	flag.StringVar(&opts.exportPath, "export", "", "write active listings to this file and exit")
	flag.StringVar(&opts.format, "format", "json", "export format: json or csv")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", slog.Any("error", err))
	}

	bootLogger := telemetry.NewLogger(os.Stderr, config.Default().Telemetry)
	cfg := config.LoadOrDefault(opts.configPath, bootLogger)

	tp, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		bootLogger.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
		tp.Logger = bootLogger
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			bootLogger.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	slog.SetDefault(logger)
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "store opened", slog.String("driver", cfg.Database.Driver))

	parser := extract.NewParser(cfg.Market)
	mgr := market.NewManager(repos.Listings, repos.Runs, parser.Classifier, cfg.Market.MajorUnit, logger, tp.TracerProvider)

	if opts.exportPath != "" {
		return exportListings(ctx, mgr, opts.exportPath, opts.format, logger)
	}

	locker, closeLock, err := runlock.New(ctx, cfg.Lock)
	if err != nil {
		return fmt.Errorf("creating run lock: %w", err)
	}
	defer func() {
		if err := closeLock(); err != nil {
			logger.Error("closing run lock", slog.Any("error", err))
		}
	}()

	var discordBot *bot.Bot
	if cfg.Discord.Token != "" {
		if discordBot, err = bot.New(cfg.Discord, logger); err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
	}

	runner, err := pipeline.NewRunner(
		fetchers(cfg, parser.Filter.IsTrade, discordBot, logger),
		parser, repos, locker, clk, logger, tp.TracerProvider, tp.MeterProvider,
	)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	if opts.once {
		return runOnce(ctx, runner, mgr, cfg.Scraper.Retention, logger)
	}

	healthHandler := health.NewHandler(clk, health.StoreChecker(repos))
	server := api.NewServer(ctx, mgr, runner, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	if discordBot != nil && cfg.Discord.CommandsEnabled {
		handlers := commands.NewHandlers(ctx, mgr, runner, cfg.Market.MajorUnit, logger, tp.TracerProvider)
		if err := discordBot.Start(ctx, handlers); err != nil {
			logger.ErrorContext(ctx, "starting bot failed, continuing without slash commands", slog.Any("error", err))
		} else {
			defer func() {
				if stopErr := discordBot.Stop(); stopErr != nil {
					logger.Error("bot shutdown error", slog.Any("error", stopErr))
				}
			}()
		}
	}

	sched := scheduler.New(runner, mgr, cfg.Scraper.ScrapeInterval, cfg.Scraper.Retention, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if cfg.LeaderElection.Enabled {
			logger.InfoContext(ctx, "leader election enabled, scheduler waits for leadership")
		}
		if leadErr := leader.Lead(ctx, cfg.LeaderElection, logger, sched.Run); leadErr != nil {
			logger.ErrorContext(ctx, "leader election failed, scheduler not running", slog.Any("error", leadErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "tradewatch is running", slog.String("version", version))

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
	<-schedDone
	runner.Wait()

	logger.Info("shutdown complete")
	return nil
}

// fetchers builds one fetcher per configured source.
func fetchers(cfg *config.Config, isTrade source.TitleFilter, discordBot *bot.Bot, logger *slog.Logger) []source.Fetcher {
	var fs []source.Fetcher
	if cfg.Scraper.ForumBaseURL != "" && len(cfg.Scraper.ForumBoards) > 0 {
		fs = append(fs, source.NewForum(cfg.Scraper, isTrade, logger))
	}
	if len(cfg.Scraper.SteamURLs) > 0 {
		fs = append(fs, source.NewSteam(cfg.Scraper, isTrade, logger))
	}
	if cfg.Scraper.BrowserEnabled && len(cfg.Scraper.BrowserURLs) > 0 {
		fs = append(fs, source.NewBrowser(cfg.Scraper, logger))
	}
	if discordBot != nil && len(cfg.Discord.MarketChannels) > 0 {
		fs = append(fs, source.NewDiscord(discordBot.Session(), cfg.Discord.GuildID, cfg.Discord.MarketChannels, cfg.Discord.MessageLimit, logger))
	}
	return fs
}

func runOnce(ctx context.Context, runner *pipeline.Runner, mgr *market.Manager, retention time.Duration, logger *slog.Logger) error {
	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if retention > 0 {
		if _, err := mgr.ExpireStale(ctx, retention); err != nil {
			return err
		}
	}
	logger.InfoContext(ctx, "single run complete",
		slog.String("run_id", res.RunID),
		slog.Int("persisted", res.Persisted),
		slog.Int("failed_targets", res.Failed),
	)
	return nil
}

func exportListings(ctx context.Context, mgr *market.Manager, path, format string, logger *slog.Logger) error {
	f, err := market.ParseFormat(format)
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	n, err := mgr.Export(ctx, out, f)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("exporting listings: %w", err)
	}
	logger.InfoContext(ctx, "export written", slog.String("path", path), slog.Int("count", n))
	return nil
}
