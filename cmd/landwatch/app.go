package main

import (
	"context"
	"fmt"
	"log"

	"github.com/landwatch/landwatch/internal/api"
	"github.com/landwatch/landwatch/internal/bot"
	"github.com/landwatch/landwatch/internal/config"
	"github.com/landwatch/landwatch/internal/fetch"
	"github.com/landwatch/landwatch/internal/fetchlog"
	"github.com/landwatch/landwatch/internal/proxy"
	"github.com/landwatch/landwatch/internal/store"
	"github.com/landwatch/landwatch/internal/stream"
	"github.com/landwatch/landwatch/internal/tracker"
)

// landwatchApp owns every long-running component and their shutdown order.
type landwatchApp struct {
	envCfg *config.EnvConfig

	proxyMgr     *proxy.Manager
	fetchlogRepo *fetchlog.Repo
	fetchlogSvc  *fetchlog.Service
	supervisor   *tracker.Supervisor
	hub          *stream.Hub
	discordBot   *bot.Bot
	janitor      *store.Janitor
	apiSrv       *api.Server
}

func newApp(envCfg *config.EnvConfig, st *store.Redis) (*landwatchApp, error) {
	app := &landwatchApp{envCfg: envCfg}

	if envCfg.ProxyEnabled {
		var provider proxy.Provider
		if envCfg.ProxyFile != "" {
			provider = &proxy.FileProvider{Path: envCfg.ProxyFile}
		} else {
			provider = proxy.NewWebshare(envCfg.WebshareToken)
		}
		app.proxyMgr = proxy.NewManager(proxy.ManagerConfig{
			Provider: provider,
			Schedule: envCfg.ProxyRefreshSchedule,
		})
	}

	if envCfg.FetchLogEnabled() {
		app.fetchlogRepo = fetchlog.NewRepo(
			envCfg.FetchLogDir,
			int64(envCfg.FetchLogDBMaxMB)*1024*1024,
			envCfg.FetchLogDBRetainCount,
		)
		if err := app.fetchlogRepo.Open(); err != nil {
			return nil, fmt.Errorf("open fetch log: %w", err)
		}
		app.fetchlogSvc = fetchlog.NewService(fetchlog.ServiceConfig{
			Repo:          app.fetchlogRepo,
			QueueSize:     envCfg.FetchLogQueueSize,
			FlushBatch:    envCfg.FetchLogFlushBatchSize,
			FlushInterval: envCfg.FetchLogFlushInterval,
		})
	}

	bridge := fetch.NewBridge(envCfg.BridgeEndpoint)
	dispatcherCfg := fetch.DispatcherConfig{
		Fetcher:     bridge.Fetch,
		Concurrency: envCfg.FetchConcurrency,
		Timeout:     envCfg.FetchTimeout,
	}
	if app.proxyMgr != nil {
		dispatcherCfg.Proxies = app.proxyMgr
	}
	if app.fetchlogSvc != nil {
		svc := app.fetchlogSvc
		dispatcherCfg.OnAttempt = func(a fetch.Attempt) {
			svc.Emit(fetchlog.EntryFromAttempt(a))
		}
	}
	dispatcher := fetch.NewDispatcher(dispatcherCfg)

	app.supervisor = tracker.NewSupervisor(tracker.SupervisorConfig{
		MaxLand: envCfg.MaxLand,
		Store:   st,
		Fetcher: dispatcher,
	})

	app.hub = stream.NewHub(stream.HubConfig{
		Store:     st,
		MaxLand:   envCfg.MaxLand,
		QueueSize: envCfg.StreamQueueSize,
	})

	if envCfg.BotEnabled() {
		discordBot, err := bot.New(bot.Config{
			Token:               envCfg.DiscordBotToken,
			GuildID:             envCfg.DiscordGuildID,
			TreesChannelID:      envCfg.DiscordTreesChannelID,
			IndustriesChannelID: envCfg.DiscordIndustriesChannelID,
			Store:               st,
		})
		if err != nil {
			return nil, err
		}
		app.discordBot = discordBot
	}

	app.janitor = store.NewJanitor(st)

	app.apiSrv = api.NewServer(api.ServerConfig{
		Port:         envCfg.APIPort,
		MaxConns:     envCfg.APIMaxConns,
		MaxLand:      envCfg.MaxLand,
		Store:        st,
		Hub:          app.hub,
		FetchLogRepo: app.fetchlogRepo,
	})

	return app, nil
}

// start brings every component up and returns the channel carrying fatal
// server errors.
func (a *landwatchApp) start() <-chan error {
	if a.proxyMgr != nil {
		a.proxyMgr.Start()
		log.Printf("Proxy roster ready (%d entries)", a.proxyMgr.Len())
	}
	if a.fetchlogSvc != nil {
		a.fetchlogSvc.Start()
	}

	if err := a.hub.Start(); err != nil {
		// The store was reachable moments ago; a dead subscription here
		// leaves the stream down, so treat it as fatal.
		serverErrCh := make(chan error, 1)
		serverErrCh <- err
		return serverErrCh
	}

	a.supervisor.Start()
	a.janitor.Start()

	if a.discordBot != nil {
		if err := a.discordBot.Start(); err != nil {
			log.Printf("Discord bot failed to start: %v", err)
			a.discordBot = nil
		}
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("API server starting on :%d", a.envCfg.APIPort)
		reportServerErr(serverErrCh, "api server", a.apiSrv.ListenAndServe())
	}()
	return serverErrCh
}

// shutdown stops components in dependency order: the outer surfaces first,
// then the event sources, then the sinks.
func (a *landwatchApp) shutdown(ctx context.Context) {
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	log.Println("API server stopped")

	a.hub.Stop()
	log.Println("Stream hub stopped")

	if err := a.supervisor.Stop(ctx); err != nil {
		log.Printf("Tracker shutdown error: %v", err)
	}
	log.Println("Land workers stopped")

	if a.discordBot != nil {
		a.discordBot.Stop()
		log.Println("Discord bot stopped")
	}

	if a.proxyMgr != nil {
		a.proxyMgr.Stop()
		log.Println("Proxy manager stopped")
	}

	a.janitor.Stop()
	log.Println("Janitor stopped")

	if a.fetchlogSvc != nil {
		a.fetchlogSvc.Stop()
	}
	if a.fetchlogRepo != nil {
		if err := a.fetchlogRepo.Close(); err != nil {
			log.Printf("Fetch log close error: %v", err)
		}
		log.Println("Fetch log stopped")
	}
}
