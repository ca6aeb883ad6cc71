// Command server runs the track request bot: the Telegram intake (webhook or
// long polling), the download worker, and the admin HTTP API.
//
// @title       Track Bot API
// @version     1.0
// @description Telegram webhook intake and read-only admin endpoints for the track download bot.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-track-bot/docs"
	"github.com/tbourn/go-track-bot/internal/config"
	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/download"
	httpapi "github.com/tbourn/go-track-bot/internal/http"
	"github.com/tbourn/go-track-bot/internal/http/middleware"
	"github.com/tbourn/go-track-bot/internal/observability"
	"github.com/tbourn/go-track-bot/internal/queue"
	"github.com/tbourn/go-track-bot/internal/repo"
	"github.com/tbourn/go-track-bot/internal/resolver"
	"github.com/tbourn/go-track-bot/internal/services"
	"github.com/tbourn/go-track-bot/internal/sysutil"
	"github.com/tbourn/go-track-bot/internal/telegram"
)

var version = "dev"

const (
	telegramTimeout = 90 * time.Second
	pollWindow      = 25 // seconds
	pollBackoff     = 3 * time.Second
	purgeInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := sysutil.NewLogger(os.Stderr, false, "go-track-bot")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log := sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	log.Info().Str("version", version).Str("port", cfg.Port).Bool("webhook", cfg.Bot.WebhookURL != "").Msg("starting")

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, observability.Transport(cfg.Bot.WebhookURL != ""))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := download.EnsureTool(ctx, cfg.Download.YTDLPPath, cfg.Download.AutoInstall); err != nil {
		return err
	}

	// Pipeline
	httpClient := &http.Client{Timeout: cfg.Resolver.ClientTimeout}
	res := resolver.New(log,
		&resolver.EndpointStrategy{Client: httpClient, Endpoint: cfg.Resolver.Endpoint, UserAgent: cfg.Resolver.UserAgent},
		&resolver.PageStrategy{Client: httpClient, UserAgent: cfg.Resolver.UserAgent},
	)
	engine := download.NewEngine(log, cfg.Download.Dir, cfg.Download.Retries,
		download.NewYouTubeSource(cfg.Download.YTDLPPath, cfg.Download.CookiesFile, cfg.Resolver.UserAgent, cfg.Download.AudioBitrate),
		download.NewSoundCloudSource(cfg.Download.YTDLPPath, cfg.Resolver.UserAgent, cfg.Download.AudioBitrate),
	)

	// Transport
	client := telegram.NewClient(cfg.Bot.APIURL, cfg.Bot.Token, telegramTimeout)
	notifier := telegram.NewNotifier(client, cfg.Ledger.PaymentCurrency)

	q := queue.New()
	worker := &queue.Worker{
		Queue:      q,
		Resolver:   res,
		Downloader: engine,
		Sink:       notifier,
		Tag:        download.TagFile,
		OnTransition: func(job *domain.Job, st domain.JobState) {
			log.Debug().Str("job_id", job.ID).Str("state", string(st)).Msg("job transition")
		},
		Log: log.With().Str("component", "worker").Logger(),
	}

	ledger := services.NewLedgerService(db, cfg.Ledger.Whitelist)
	bot := &services.BotService{
		DB:            db,
		Ledger:        ledger,
		Queue:         q,
		Notifier:      notifier,
		Payments:      notifier,
		PaymentAmount: cfg.Ledger.PaymentAmount,
		Log:           log.With().Str("component", "bot").Logger(),
	}
	if cfg.RequesterRPS > 0 {
		bot.Limiter = middleware.NewRateLimiter(cfg.RequesterRPS, cfg.RequesterBurst, nil)
	}

	dispatcher := &telegram.Dispatcher{
		DB:        db,
		DedupeTTL: cfg.Bot.UpdateDedupeTTL,
		Bot:       bot,
		Checkout:  client,
		Log:       log.With().Str("component", "dispatcher").Logger(),
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Dispatcher: dispatcher,
		Queue:      q,
		Ledger:     ledger,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// getUpdates is refused while a webhook is set, so polling starts by
	// removing any stale registration.
	var poller *telegram.Poller
	if cfg.Bot.WebhookURL != "" {
		hook := cfg.Bot.WebhookURL + httpapi.WebhookPath(cfg.Bot.Token)
		if err := client.SetWebhook(ctx, hook, cfg.Bot.WebhookSecret); err != nil {
			return err
		}
		log.Info().Msg("webhook registered")
	} else {
		if err := client.DeleteWebhook(ctx); err != nil {
			return err
		}
		poller = &telegram.Poller{
			Client:     client,
			Dispatcher: dispatcher,
			Timeout:    pollWindow,
			Backoff:    pollBackoff,
			Log:        log.With().Str("component", "poller").Logger(),
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error { return worker.Run(gctx) })

	g.Go(func() error { return purgeLoop(gctx, db, log) })

	if poller != nil {
		g.Go(func() error { return poller.Run(gctx) })
	}

	err = g.Wait()

	if cfg.Bot.WebhookURL != "" {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if derr := client.DeleteWebhook(dctx); derr != nil {
			log.Warn().Err(derr).Msg("webhook removal failed")
		}
	}
	return err
}

// purgeLoop drops expired processed-update rows.
func purgeLoop(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := repo.PurgeExpiredUpdates(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("purge processed updates")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("purged processed updates")
			}
		}
	}
}
