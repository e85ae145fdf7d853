package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"bilisub/internal/downloader"
	"bilisub/pkg/auth"
	"bilisub/pkg/bilibili"
	"bilisub/pkg/chat"
	"bilisub/pkg/command"
	"bilisub/pkg/config"
	"bilisub/pkg/imagecache"
	"bilisub/pkg/logger"
	"bilisub/pkg/metrics"
	"bilisub/pkg/models"
	"bilisub/pkg/notify"
	"bilisub/pkg/poller"
	"bilisub/pkg/ratelimit"
	"bilisub/pkg/render"
	"bilisub/pkg/schedule"
	"bilisub/pkg/screenshot"
	"bilisub/pkg/server"
	"bilisub/pkg/store"
	"bilisub/pkg/supervisor"
	"bilisub/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Credentials resolves the Bilibili login to use
type Credentials interface {
	RetrieveDefault(name string) (*auth.Account, error)
}

// Options tunes New
type Options struct {
	Version string

	// Credentials is optional; without it requests are anonymous
	Credentials Credentials

	// Console receives console: destinations; defaults to stdout
	Console io.Writer

	// Offline skips the startup cookie warm-up. One-shot CLI commands use it.
	Offline bool

	// Endpoints overrides the Bilibili base URLs
	Endpoints bilibili.Endpoints
}

// App owns every long-lived component
type App struct {
	Config     *config.Config
	Logger     logger.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Client     *bilibili.Client
	Store      store.Store
	Schedule   *schedule.Store
	Router     *chat.Router
	Supervisor *supervisor.Supervisor
	Commands   *command.Handler
	Server     *server.Server

	// Season subscriptions run beside accounts with their own records,
	// pollers and windows
	SeasonStore    store.Store
	SeasonSchedule *schedule.Store
	Seasons        *supervisor.Supervisor

	pool           *downloader.WorkerPool
	capturer       screenshot.Capturer
	twitch         *chat.Twitch
	notifier       *notify.Notifier
	seasonFeed     *bilibili.SeasonFeed
	seasonNotifier *notify.Notifier
	interval     models.Interval
	closeTracing func()
	closeOnce    sync.Once
}

// New builds the application from cfg. Nothing polls until Run.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	a := &App{
		Config:       cfg,
		Logger:       log,
		Registry:     prometheus.NewRegistry(),
		closeTracing: func() {},
		interval:     models.NewInterval(cfg.Poll.IntervalMin, cfg.Poll.IntervalMax),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	shutdown, err := telemetry.InitTracing(ctx, cfg.Tracing, opts.Version, log)
	if err != nil {
		log.WithError(err).Warn("Tracing unavailable, continuing without it")
	} else {
		a.closeTracing = shutdown
	}

	if err := a.buildClient(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.Store, err = store.Open(ctx, cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.SeasonStore, err = store.OpenNamespace(ctx, cfg.Storage, store.NamespaceSeason, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildDelivery(opts); err != nil {
		a.Close()
		return nil, err
	}

	a.Supervisor = supervisor.New(supervisor.Options{
		Store:           a.Store,
		Resolver:        a.Client,
		NewPoller:       a.newPoller,
		DefaultInterval: a.interval,
		Logger:          log,
	})
	a.seasonFeed = bilibili.NewSeasonFeed(a.Client)
	a.Seasons = supervisor.New(supervisor.Options{
		Store:           a.SeasonStore,
		Resolver:        a.seasonFeed,
		NewPoller:       a.newSeasonPoller,
		DefaultInterval: a.interval,
		Label:           "season",
		Logger:          log.WithField("namespace", store.NamespaceSeason),
	})

	prefix := cfg.Twitch.CommandPrefix
	if prefix == "" {
		prefix = command.DefaultPrefix
	}
	a.Commands = command.NewHandler(prefix, a.Supervisor, a.Client, a.Schedule, log).
		WithSeasons(command.NewHandler(prefix, a.Seasons, nil, a.SeasonSchedule, log))
	if a.twitch != nil {
		a.twitch.SetCommands(a.Commands.Handle)
	}

	if cfg.Metrics.Enabled {
		a.Server = server.New(cfg.Metrics.Listen, a.Supervisor, a.Registry, log)
	}

	return a, nil
}

// buildClient creates the API client and restores its session
func (a *App) buildClient(ctx context.Context, opts Options) error {
	cfg := a.Config.Bilibili

	gate := ratelimit.NewGate(a.Config.Gate.MinInterval)
	gate.SetWaitObserver(a.Metrics.RecordGateWait)

	a.Client = bilibili.NewClient(bilibili.Options{
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		Gate:       gate,
		Observer:   a.Metrics.RecordRequest,
		Endpoints:  opts.Endpoints,
		Logger:     a.Logger,
	})

	if cfg.CookieFile != "" {
		n, err := a.Client.LoadCookies(cfg.CookieFile)
		if err != nil {
			a.Logger.WithError(err).Warn("Ignoring unreadable cookie file")
		} else if n > 0 {
			a.Logger.DebugWithFields("Restored cookies", map[string]interface{}{"count": n})
		}
	}

	if opts.Credentials != nil {
		account, err := opts.Credentials.RetrieveDefault(cfg.Account)
		switch {
		case err == nil:
			a.Client.SetCredentials(account.Cookies())
			if account.UserAgent != "" {
				a.Client.SetHeader("User-Agent", account.UserAgent)
			}
			a.Logger.InfoWithFields("Using stored credentials", map[string]interface{}{"account": account.Name})
		case cfg.Account != "":
			return fmt.Errorf("failed to load account %q: %w", cfg.Account, err)
		default:
			a.Logger.Debug("No stored credentials, requests are anonymous")
		}
	}

	if opts.Offline {
		return nil
	}
	if err := a.Client.Warm(ctx); err != nil {
		a.Logger.WithError(err).Warn("Cookie warm-up failed")
	}
	if cfg.CookieFile != "" {
		if err := a.Client.SaveCookies(cfg.CookieFile); err != nil {
			a.Logger.WithError(err).Warn("Failed to persist cookies")
		}
	}
	return nil
}

// buildDelivery creates the transports, image pipeline and notifier
func (a *App) buildDelivery(opts Options) error {
	cfg := a.Config

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	a.Schedule, err = schedule.Open(cfg.Schedule.Path, loc, a.Logger)
	if err != nil {
		return err
	}
	a.SeasonSchedule, err = schedule.Open(cfg.Schedule.SeasonPath, loc, a.Logger)
	if err != nil {
		return err
	}

	renderer, err := render.New(cfg.Templates, render.Options{
		ImageLimit: cfg.Cache.ImageLimit,
		Location:   loc,
	})
	if err != nil {
		return fmt.Errorf("invalid message template: %w", err)
	}

	cache, err := imagecache.New(cfg.Cache.Dir, cfg.Cache.LRUSize,
		imagecache.NewHTTPSource(cfg.Bilibili.Timeout, cfg.Bilibili.UserAgent), a.Logger)
	if err != nil {
		return err
	}
	a.pool = downloader.NewWorkerPool(cfg.Cache.Workers, cache, nil, a.Logger)
	a.pool.Start()
	a.capturer = screenshot.New(cfg.Screenshot, cache, a.Logger)

	a.Router = chat.NewRouter(chat.NewConsole(opts.Console))
	if cfg.Telegram.BotToken != "" {
		a.Router.Register(chat.NewTelegram(chat.TelegramOptions{
			Token:    cfg.Telegram.BotToken,
			APIBase:  cfg.Telegram.APIBase,
			Throttle: ratelimit.NewThrottle(1, 1),
			Logger:   a.Logger,
		}))
	}
	if cfg.Twitch.Username != "" {
		a.twitch = chat.NewTwitch(chat.TwitchOptions{
			Username:   cfg.Twitch.Username,
			OAuthToken: cfg.Twitch.OAuthToken,
			Channels:   cfg.Twitch.Channels,
			Throttle:   ratelimit.NewThrottle(cfg.Twitch.MessagesPerSecond, 1),
			Logger:     a.Logger,
		})
		a.Router.Register(a.twitch)
	}

	a.notifier = notify.New(notify.Options{
		Renderer:  renderer,
		Deliverer: a.Router,
		Images:    a.pool,
		Capturer:  a.capturer,
		Schedule:  a.Schedule,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	})
	a.seasonNotifier = notify.New(notify.Options{
		Renderer:  renderer,
		Deliverer: a.Router,
		Images:    a.pool,
		Schedule:  a.SeasonSchedule,
		Metrics:   a.Metrics,
		Logger:    a.Logger.WithField("namespace", store.NamespaceSeason),
	})
	return nil
}

func (a *App) newPoller(uid int64) supervisor.Runner {
	return poller.New(uid, poller.Options{
		Fetcher:         a.Client,
		Notifier:        a.notifier,
		Store:           a.Store,
		Metrics:         a.Metrics,
		Logger:          a.Logger,
		DefaultInterval: a.interval,
	})
}

func (a *App) newSeasonPoller(seasonID int64) supervisor.Runner {
	return poller.New(seasonID, poller.Options{
		Fetcher:         a.seasonFeed,
		Notifier:        a.seasonNotifier,
		Store:           a.SeasonStore,
		Metrics:         a.Metrics,
		Logger:          a.Logger.WithField("namespace", store.NamespaceSeason),
		DefaultInterval: a.interval,
	})
}

// Run starts polling, the admin server and the chat listener, and blocks
// until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if err := a.Supervisor.Start(ctx); err != nil {
		return err
	}
	defer a.Supervisor.Stop()
	if err := a.Seasons.Start(ctx); err != nil {
		return err
	}
	defer a.Seasons.Stop()

	errCh := make(chan error, 2)
	if a.Server != nil {
		go func() {
			if err := a.Server.Start(); err != nil {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}
	if a.twitch != nil {
		go func() {
			if err := a.twitch.Run(ctx); err != nil {
				errCh <- fmt.Errorf("twitch: %w", err)
			}
		}()
	}

	a.Logger.InfoWithFields("bilisub running", map[string]interface{}{
		"transports": a.Router.Schemes(),
		"store":      a.Config.Storage.Driver,
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.Logger.WithError(runErr).Error("Component failed, shutting down")
	}

	if a.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.WithError(err).Warn("Admin server shutdown failed")
		}
	}
	return runErr
}

// Close releases every resource. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.pool != nil {
			a.pool.Stop()
		}
		if a.capturer != nil {
			if err := a.capturer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, s := range []store.Store{a.Store, a.SeasonStore} {
			if s == nil {
				continue
			}
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.Client != nil && a.Config.Bilibili.CookieFile != "" {
			if err := a.Client.SaveCookies(a.Config.Bilibili.CookieFile); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeTracing()
	})
	return errors.Join(errs...)
}
