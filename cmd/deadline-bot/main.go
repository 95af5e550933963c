// Command deadline-bot runs the Deadline Master Telegram bot: long polling
// for chat commands, the daily digest job and the optional ops HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/bot"
	"github.com/tbourn/deadline-master/internal/config"
	httpapi "github.com/tbourn/deadline-master/internal/http"
	"github.com/tbourn/deadline-master/internal/http/handlers"
	"github.com/tbourn/deadline-master/internal/observability"
	"github.com/tbourn/deadline-master/internal/repo"
	"github.com/tbourn/deadline-master/internal/scheduler"
	"github.com/tbourn/deadline-master/internal/services"
	"github.com/tbourn/deadline-master/internal/sysutil"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.MustLoad()
	sysutil.SetupLogger(nil, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	version := sysutil.Version()
	log.Info().
		Str("version", version).
		Str("timezone", cfg.Location.String()).
		Str("db_driver", cfg.DB.Driver).
		Bool("bot", cfg.Bot.Enabled).
		Bool("http", cfg.HTTPEnabled).
		Msg("starting deadline-master")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
		Debug:   cfg.LogLevel == "debug",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	tasks := services.NewTaskService(db, cfg.Location, cfg.AllowCreatorClose)
	commands := services.NewCommandService(tasks, cfg.NotifyDoneInChat)

	var (
		digest  handlers.DigestRunner
		sched   *scheduler.Scheduler
		botDone chan struct{}
	)
	if cfg.Bot.Enabled {
		api, err := bot.Connect(cfg.Bot.Token, cfg.Bot.Debug)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram connect failed")
		}
		if err := bot.RegisterCommands(api); err != nil {
			log.Warn().Err(err).Msg("set bot commands failed")
		}
		commands.BotUsername = api.Self.UserName
		b := bot.New(api, commands, cfg.Bot.PollTimeout, api.Self.UserName)

		botDone = make(chan struct{})
		go func() {
			defer close(botDone)
			if err := b.Run(ctx); err != nil {
				log.Error().Err(err).Msg("bot stopped")
			}
		}()

		ds := services.NewDigestService(db, b, cfg.Location, cfg.Digest.SendRPS, cfg.Digest.SendBurst)
		digest = ds
		if cfg.Digest.Enabled {
			sched, err = scheduler.New(cfg.Location, cfg.Digest.Hour, func(ctx context.Context) error {
				_, err := ds.Run(ctx)
				return err
			})
			if err != nil {
				log.Fatal().Err(err).Msg("digest scheduler setup failed")
			}
			sched.Start()
		}
	}

	var srv *http.Server
	if cfg.HTTPEnabled {
		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, handlers.New(commands, tasks, digest), cfg)

		srv = &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
			ErrorLog:          stdlog.New(log.Logger, "", 0),
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("ops api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("ops api failed")
			}
		}()
	}

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"deadline-master": func(sctx context.Context) error {
			return shutdown(sctx, cancel, srv, sched, botDone, db, otelShutdown)
		},
	})
	code := <-wait
	log.Info().Int("exit_code", code).Msg("shutdown complete")
	os.Exit(code)
}

// shutdown stops intake before releasing storage. A running digest and
// in-flight updates finish before the database closes.
func shutdown(
	ctx context.Context,
	stop context.CancelFunc,
	srv *http.Server,
	sched *scheduler.Scheduler,
	botDone <-chan struct{},
	db *gorm.DB,
	flushTraces observability.Shutdown,
) error {
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if sched != nil {
		if err := sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	stop()
	if botDone != nil {
		select {
		case <-botDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("bot: %w", ctx.Err()))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db: %w", err))
		}
	}
	if err := flushTraces(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}
