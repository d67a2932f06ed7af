package internal

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/revsync/internal/engine"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/notifier"
	"github.com/starford/revsync/internal/registry"
	"github.com/starford/revsync/internal/remote"
	"github.com/starford/revsync/internal/watch"
)

// Session is a client connected to one remote store: its registry has been
// loaded from the store's listing and the engine is ready to sync.
type Session struct {
	Client   *remote.Client
	Registry *registry.Registry
	Engine   *engine.Engine

	cfg         *Config
	logger      *slog.Logger
	unsubscribe func()
	onNotice    func(notifier.Notice)
}

// NewSession connects to the configured store and bootstraps the registry.
func NewSession(ctx context.Context, opts ...Option) (*Session, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg, logger := app.config, app.logger

	client, err := remote.New(cfg.Remote.BaseURL, cfg.Remote.AccessToken, cfg.Remote.Timeout,
		remote.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	eng := engine.New(client, reg, cfg.Sync.Parallelism,
		engine.WithChunkSize(cfg.Sync.ChunkSize),
		engine.WithLogger(logger))

	s := &Session{
		Client:   client,
		Registry: reg,
		Engine:   eng,
		cfg:      cfg,
		logger:   logger,
	}
	s.unsubscribe = reg.Subscribe(s.logSnapshot)

	if err := eng.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	logger.Info("session ready",
		slog.String("remote", cfg.Remote.BaseURL),
		slog.Int("parallelism", cfg.Sync.Parallelism),
		slog.Int64("chunk_size", cfg.Sync.ChunkSize))
	return s, nil
}

// Close stops the registry.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.Registry.Close()
}

func (s *Session) logSnapshot(files []models.FileManifest) {
	var syncing, confirmed int
	for _, f := range files {
		if f.Syncing {
			syncing++
		}
		if f.Confirmed {
			confirmed++
		}
	}
	s.logger.Debug("registry changed",
		slog.Int("files", len(files)),
		slog.Int("syncing", syncing),
		slog.Int("confirmed", confirmed))
}

// Subscribe holds the completion push channel open until ctx is cancelled,
// reopening it per the subscribe policy. It returns immediately when
// subscriptions are disabled.
func (s *Session) Subscribe(ctx context.Context) error {
	sc := s.cfg.Subscribe
	if !sc.Enabled {
		return nil
	}
	n := notifier.New(s.Client, s.Registry, s.logger)
	n.OnNotice = s.onNotice
	return notifier.Supervise(ctx, n, notifier.Policy{
		ResubscribeOnGraceful: sc.ResubscribeOnClose,
		BaseBackoff:           sc.BaseBackoff,
		MaxBackoff:            sc.MaxBackoff,
		MaxRetries:            sc.MaxRetries,
	}, s.logger)
}

// Watch syncs the configured directory on changes, alongside the push
// channel, until ctx is cancelled.
func (s *Session) Watch(ctx context.Context) error {
	w := watch.New(s.cfg.Sync.WatchDir, s.Engine, s.cfg.Sync.Debounce, s.logger)
	w.InitialScan = true

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gCtx) })
	g.Go(func() error { return s.Subscribe(gCtx) })
	return g.Wait()
}
