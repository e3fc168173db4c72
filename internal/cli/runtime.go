package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"noteforge/api/internal/app"
	"noteforge/api/internal/cloudsync"
	"noteforge/api/internal/config"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/logging"
	"noteforge/api/internal/notify"
	"noteforge/api/internal/search"
	"noteforge/api/internal/session"
	"noteforge/api/internal/store"
)

// runtime is the wired process: stores, collaborators and the app service.
type runtime struct {
	cfg      config.Config
	log      *logrus.Logger
	backend  store.Backend
	sessions session.Store
	bus      *notify.Bus
	search   *search.Service
	service  *app.Service

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// loadConfig resolves configuration and applies the global flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(opts.Storage) != "" {
		cfg.StorageDSN = opts.Storage
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

// newRuntime opens storage, builds every collaborator and starts the app
// service. Callers must Close the runtime.
func newRuntime(ctx context.Context, cfg config.Config, log *logrus.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: log, bus: notify.NewBus()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()
	logConfigWarnings(cfg, log)

	rt.backend, err = store.OpenBackend(ctx, cfg.StorageDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.closers = append(rt.closers, rt.backend)
	log.WithField("storage", redactDSN(cfg.StorageDSN)).Info("storage opened")

	docs := store.NewDocumentStore(rt.backend, store.WithLogger(log))
	settings, err := store.NewSettingsStore(rt.backend, log)
	if err != nil {
		return nil, fmt.Errorf("settings store: %w", err)
	}

	sealer := session.NewSealer(cfg.TokenSecret)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, sealer)
		if err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		rt.sessions = redisStore
		rt.closers = append(rt.closers, redisStore)
		log.Info("using redis for cloud tokens")
	} else {
		rt.sessions = session.NewMemoryStore()
		log.Info("using process memory for cloud tokens")
	}

	dropbox := cloudsync.NewDropboxAuth(cloudsync.DropboxAuthConfig{
		Secret:       []byte(cfg.TokenSecret),
		ClientSecret: cfg.DropboxClientSecret,
		RedirectURL:  cfg.DropboxRedirectURL,
		AuthURL:      cfg.DropboxAuthURL,
		TokenURL:     cfg.DropboxTokenURL,
		StateTTL:     cfg.StateTTL,
		Logger:       log,
	}, rt.sessions)

	adapter, err := newSyncAdapter(ctx, cfg, dropbox, settings, log)
	if err != nil {
		return nil, err
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	rt.search = search.NewService(meili, log)
	rt.closers = append(rt.closers, closerFunc(func() error {
		rt.search.Close()
		return nil
	}))

	opts := app.Options{
		Documents:        docs,
		Settings:         settings,
		Exporter:         export.NewService(export.Options{EnablePDF: cfg.EnablePDF, PandocPath: cfg.PandocPath}),
		Search:           rt.search,
		Dropbox:          dropbox,
		Events:           rt.bus,
		Logger:           log,
		AutosaveInterval: cfg.AutosaveInterval,
	}
	if adapter != nil {
		opts.Sync = adapter
	}
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		opts.History = history.New(cfg.HistoryDir)
	}

	rt.service = app.New(opts)
	if err := rt.service.Start(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// newSyncAdapter returns nil when no provider is configured.
func newSyncAdapter(ctx context.Context, cfg config.Config, dropbox *cloudsync.DropboxAuth, settings *store.SettingsStore, log logrus.FieldLogger) (*cloudsync.Adapter, error) {
	switch cfg.SyncProvider {
	case "", "none":
		return nil, nil
	case cloudsync.ProviderDropbox:
		tokens := dropbox.Tokens(func() string { return settings.Get().DropboxKey })
		uploader := cloudsync.NewDropboxUploader(cfg.DropboxContentURL, nil)
		return cloudsync.NewAdapter(tokens, uploader, cfg.SyncPath, log), nil
	case "minio":
		uploader, err := cloudsync.NewMinioUploader(cloudsync.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := uploader.EnsureBucket(bucketCtx); err != nil {
			log.WithError(err).Warn("minio bucket not ready; sync will retry on upload")
		}
		return cloudsync.NewAdapter(cloudsync.StaticToken(cfg.MinioAccessKey), uploader, cfg.SyncPath, log), nil
	default:
		return nil, fmt.Errorf("unknown sync provider %q", cfg.SyncProvider)
	}
}

// Close stops the app service, then releases resources in reverse order.
func (rt *runtime) Close() {
	if rt.service != nil {
		rt.service.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.log.WithError(err).Warn("close failed")
		}
	}
}

func logConfigWarnings(cfg config.Config, log logrus.FieldLogger) {
	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

// redactDSN drops credentials from a DSN before it is logged.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
