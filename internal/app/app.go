package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ssv-dashboard-api/internal/alerting"
	"ssv-dashboard-api/internal/api"
	"ssv-dashboard-api/internal/config"
	"ssv-dashboard-api/internal/fetcher"
	"ssv-dashboard-api/internal/scheduler"
	"ssv-dashboard-api/internal/seeder"
	"ssv-dashboard-api/internal/service"
	"ssv-dashboard-api/internal/store"
	"ssv-dashboard-api/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (*fetcher.Market, *fetcher.Staking, *fetcher.Staked, *fetcher.NetworkFee) {
	market := fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:   a.Config.Market.BaseURL,
		APIKey:    a.Config.Market.APIKey,
		Symbols:   a.Config.Market.Symbols,
		Timeout:   a.Config.Market.RequestTimeout,
		UserAgent: a.Config.Market.UserAgent,
	}, a.Logger)

	staking := fetcher.NewStaking(fetcher.StakingOptions{
		AprURL:  a.Config.Staking.AprURL,
		Timeout: a.Config.Staking.RequestTimeout,
	}, a.Logger)

	staked := fetcher.NewStaked(fetcher.StakedOptions{
		URL:     a.Config.Staking.StakedURL,
		Timeout: a.Config.Staking.RequestTimeout,
	}, a.Logger)

	fee := fetcher.NewNetworkFee(fetcher.NetworkFeeOptions{
		RPCURL:          a.Config.Ethereum.RPCURL,
		ContractAddress: a.Config.Ethereum.NetworkFeeAddress,
		Timeout:         a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	return market, staking, staked, fee
}

func (a *App) newWatchdog() *alerting.Watchdog {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifier alerting.Notifier
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifier = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil
	}

	return alerting.NewWatchdog(alerting.WatchdogOptions{
		FailureThreshold: a.Config.Alerting.FailureThreshold,
		Cooldown:         a.Config.Alerting.Cooldown,
	}, notifier, a.Logger)
}

func (a *App) newService(history *store.History, cache *store.Cache, watchdog *alerting.Watchdog) *service.Service {
	market, staking, staked, fee := a.newFetchers()
	seed := seeder.New(seeder.Options{Symbols: a.Config.Market.Symbols}, market, history, a.Logger)
	return service.New(a.Config, market, staking, staked, fee, seed, history, cache, watchdog, a.Logger)
}

// Run executes the long-running dashboard service: poll loop plus HTTP facade.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	history := store.NewHistory()
	cache := store.NewCache()
	svc := a.newService(history, cache, a.newWatchdog())

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	server := api.New(api.Options{
		Addr:         a.Config.Server.Addr,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}, api.Deps{
		Cache:             cache,
		RefreshInterval:   a.Config.Scheduler.Interval,
		Symbols:           a.Config.Market.Symbols,
		StakingConfigured: a.Config.Staking.AprURL != "",
		FeeConfigured:     a.Config.Ethereum.RPCURL != "" && a.Config.Ethereum.NetworkFeeAddress != "",
	}, a.Logger)

	a.Logger.Info().Str("addr", a.Config.Server.Addr).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("version", version.String()).
		Msg("starting dashboard service")

	var serverErr error
	serverDone := make(chan struct{})
	go func() {
		serverErr = server.Start()
		close(serverDone)
	}()

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx, svc.RunCycle)
	}()

	select {
	case <-ctx.Done():
	case <-serverDone:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}
	<-serverDone

	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
	}

	if serverErr != nil {
		return serverErr
	}

	a.Logger.Info().Msg("dashboard service stopped")
	return nil
}
