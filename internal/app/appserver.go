package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"camrand/internal/service/web"
	"camrand/internal/shared/logger"
	"camrand/internal/shared/types"
	manager "camrand/rngpool"
	"camrand/rngpool/fetcher"
	"camrand/rngpool/frame"
	"camrand/rngpool/mixer"
	"camrand/rngpool/registry"
	"camrand/rngpool/scraper"
	"camrand/rngpool/store"
)

// AppServer wires the entropy pipeline together and owns its lifecycle.
type AppServer struct {
	cfg *types.Config

	registry *registry.Registry
	manager  *manager.Manager
	hub      *web.Hub

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}
}

// New builds the full pipeline from configuration. A mixer failure here is
// the one unrecoverable startup error: the process must not serve output
// without a working mixing primitive.
func New(cfg *types.Config) (*AppServer, error) {
	reg := registry.New(cfg.PoolConf.SourcesFile, cfg.PoolConf.FailureThreshold)
	if err := reg.Load(); err != nil {
		return nil, err
	}

	mx, err := mixer.New(cfg.MixerConf.BlockSize)
	if err != nil {
		return nil, err
	}

	proc, err := frame.New(cfg.MixerConf.CropWidth, cfg.MixerConf.CropHeight, cfg.FetchConf.DedupWindow)
	if err != nil {
		return nil, err
	}

	st := store.NewFileStore(cfg.PoolConf.BufferFile, cfg.MixerConf.BlockSize)
	if err := st.Load(); err != nil {
		return nil, err
	}

	// A disabled endpoint's dedup window is dead state; drop it.
	reg.OnDisable(proc.Forget)

	fet := fetcher.New(cfg.FetchConf, reg, proc)
	mgr := manager.NewManager(cfg, st, reg, fet, mx)

	hub := web.NewHub()
	mgr.SetBroadcaster(hub)

	return &AppServer{
		cfg:      cfg,
		registry: reg,
		manager:  mgr,
		hub:      hub,
		stopChan: make(chan struct{}),
	}, nil
}

// Manager exposes the buffer manager for the drain mode.
func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// Run starts the web API, the status hub and a background warm-up
// replenishment, then blocks until SIGINT/SIGTERM. SIGHUP resets the
// registry from the sources file (the external health tool's hook).
func (s *AppServer) Run() {
	l := logger.WithComponent("App")

	go s.hub.Run()
	web.StartServer(&s.waitGroup, s.cfg, s.manager, s.hub)

	// Warm the buffer in the background so the first callers are not
	// stuck behind a full collection round.
	go s.manager.MaybeReplenish(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			l.Info().Msg("SIGHUP received, resetting source registry.")
			if err := s.registry.Reset(); err != nil {
				l.Error().Err(err).Msg("Registry reset failed.")
			}
			continue
		}
		l.Info().Str("signal", sig.String()).Msg("Shutdown signal received.")
		break
	}
	s.Stop()
}

// Stop shuts the server down.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		l := logger.WithComponent("App")
		l.Info().Msg("camrand stopped.")
	})
}

// Discover runs every source discovery scraper once and appends new
// endpoints to the sources file.
func (s *AppServer) Discover() error {
	l := logger.WithComponent("App")
	if len(s.cfg.ScraperConf.DirectoryURLs) == 0 {
		l.Warn().Msg("No directory_urls configured, nothing to discover.")
		return nil
	}

	scrapers := []scraper.Scraper{
		scraper.NewDirectoryScraper(s.cfg.ScraperConf.DirectoryURLs, s.cfg.ScraperConf.MaxPerRun),
	}
	for _, sc := range scrapers {
		urls, err := sc.Scrape()
		if err != nil {
			l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed, continuing with the rest.")
			continue
		}
		added, err := s.registry.Append(urls)
		if err != nil {
			return err
		}
		l.Info().Str("source", sc.Name()).Int("found", len(urls)).Int("added", added).Msg("Source discovery finished.")
	}
	return nil
}
