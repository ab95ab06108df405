package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"proxyfinder/internal/service/web"
	"proxyfinder/internal/shared/config"
	"proxyfinder/internal/shared/logger"
	"proxyfinder/internal/shared/types"
	"proxyfinder/internal/sys/fdlimit"
	manager "proxyfinder/proxypool"
	"proxyfinder/proxypool/model"
	"proxyfinder/proxypool/runlog"
	"proxyfinder/proxypool/scraper"
	"proxyfinder/proxypool/storage"
	"proxyfinder/proxypool/validator"
)

const shutdownTimeout = 30 * time.Second

// AppServer is the application's main struct.
type AppServer struct {
	cfg       *types.Config
	iniPath   string
	configDir string

	logs    *runlog.Buffer
	hub     *web.Hub
	store   *storage.FileStorage
	manager *manager.Manager
	web     *web.Server

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// NewForWeb creates an AppServer that serves the web UI; run lines are kept in
// the log buffer, streamed to websocket clients and written to the console.
func NewForWeb(cfg *types.Config, iniPath string) (*AppServer, error) {
	s := newAppServer(cfg, iniPath)
	s.hub = web.NewHub()
	if err := s.buildPipeline(runlog.Multi{s.logs, s.hub, runlog.Console()}); err != nil {
		return nil, err
	}
	return s, nil
}

// NewForCLI creates an AppServer for a single synchronous pass without the web UI.
func NewForCLI(cfg *types.Config, iniPath string) (*AppServer, error) {
	s := newAppServer(cfg, iniPath)
	if err := s.buildPipeline(runlog.Multi{s.logs, runlog.Console()}); err != nil {
		return nil, err
	}
	return s, nil
}

func newAppServer(cfg *types.Config, iniPath string) *AppServer {
	return &AppServer{
		cfg:       cfg,
		iniPath:   iniPath,
		configDir: filepath.Dir(iniPath),
		logs:      runlog.NewBuffer(cfg.LogCapacity),
	}
}

// buildPipeline wires fetcher, catalog, tester and result store into the manager.
func (s *AppServer) buildPipeline(sink runlog.Sink) error {
	l := logger.WithComponent("AppServer")

	sources, err := s.loadSources()
	if err != nil {
		return err
	}

	fetcher := scraper.NewCollyFetcher(s.cfg.FetchTimeout())
	catalog := scraper.NewCatalog(scraper.ScrapersFor(sources, fetcher)...)
	tester := validator.NewValidator(s.cfg.TestTimeout(), s.cfg.GeoOptions())
	s.store = storage.NewFileStorage(config.ResolvePath(s.configDir, s.cfg.File))

	opts := s.cfg.RunOptions()
	fdLimit := fdlimit.Detect()
	if workers := fdlimit.ClampWorkers(opts.Concurrency, fdLimit); workers != opts.Concurrency {
		l.Warn().Int("requested", opts.Concurrency).Int("workers", workers).Msgf("Worker pool reduced to fit the file descriptor limit (%d).", fdLimit)
		opts.Concurrency = workers
	}

	geo := s.cfg.GeoOptions()
	l.Info().
		Int("sources", len(sources)).
		Int("targets", len(opts.Targets)).
		Int("workers", opts.Concurrency).
		Int("max_proxies", opts.MaxProxies).
		Int("max_per_target", opts.MaxPerTarget).
		Bool("verify_country", geo.Enabled).
		Str("expected_country", geo.ExpectedCountry).
		Str("output", s.store.Path()).
		Msg("Pipeline configured.")

	s.manager = manager.NewManager(opts, catalog, tester, s.store, sink)
	return nil
}

// loadSources reads the sources file. When it does not exist the built-in
// list is used and written out so it can be edited.
func (s *AppServer) loadSources() ([]model.Source, error) {
	l := logger.WithComponent("AppServer")
	path := config.ResolvePath(s.configDir, s.cfg.SourcesFile)

	_, statErr := os.Stat(path)
	sources, err := config.LoadSources(path, scraper.DefaultSources())
	if err != nil {
		return nil, fmt.Errorf("failed to load sources from '%s': %w", path, err)
	}
	if errors.Is(statErr, os.ErrNotExist) {
		if err := config.SaveSources(path, sources); err != nil {
			l.Warn().Err(err).Str("path", path).Msg("Could not write default sources file.")
		} else {
			l.Info().Str("path", path).Msg("Wrote default sources file.")
		}
	}
	return sources, nil
}

// Run is the web mode entry point. It blocks until SIGINT/SIGTERM.
func (s *AppServer) Run() error {
	l := logger.WithComponent("AppServer")
	l.Info().Msg("Starting server in 'web' mode...")

	go s.hub.Run() // 启动 Hub

	handler := web.NewHandler(s.manager, s.logs, s.store, s.hub)
	srv, err := web.StartServer(&s.waitGroup, s.cfg.WebConf, handler, s.hub)
	if err != nil {
		s.hub.Close()
		return err
	}
	s.web = srv

	if s.cfg.Autostart {
		if err := s.manager.Start(nil); err != nil {
			l.Error().Err(err).Msg("Autostart failed.")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	l.Info().Msg("Shutdown signal received.")

	s.Stop()
	return nil
}

// RunOnce performs one synchronous pass. SIGINT/SIGTERM stop the pass; the
// partial results are still persisted.
func (s *AppServer) RunOnce() ([]model.WorkingProxyRecord, error) {
	l := logger.WithComponent("AppServer")
	l.Info().Msg("Starting single validation pass...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.manager.Run(ctx, nil)
}

// Stop gracefully shuts down the server: the current run is stopped and
// persisted before the web server closes.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		l := logger.WithComponent("AppServer")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.manager.Shutdown(ctx); err != nil {
			l.Error().Err(err).Msg("Run did not finish before the shutdown timeout.")
		}
		if s.web != nil {
			if err := s.web.Shutdown(ctx); err != nil {
				l.Error().Err(err).Msg("Web server shutdown failed.")
			}
		}
		if s.hub != nil {
			s.hub.Close()
		}
		s.waitGroup.Wait()
		l.Info().Msg("Server stopped.")
	})
}

// Manager exposes the orchestrator.
func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// Logs exposes the run log buffer.
func (s *AppServer) Logs() *runlog.Buffer {
	return s.logs
}
