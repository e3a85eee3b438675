// Command yandecore is a small CLI that exercises the core: it has no UI
// of its own, only enough wiring to warm the preloader, submit a download,
// run the startup recovery pass, or print a status snapshot. Grounded on
// onedrive-go's root.go (the persistent-flags-plus-PersistentPreRunE shape
// that resolves a shared app context once, before any subcommand's RunE
// runs) and rescale-int's CLI-over-a-transfer-engine pattern.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"yandecore/internal/cache"
	"yandecore/internal/config"
	"yandecore/internal/downloader"
	"yandecore/internal/eventbus"
	"yandecore/internal/favorites"
	"yandecore/internal/logger"
	"yandecore/internal/preloader"
	"yandecore/internal/security"
	"yandecore/internal/session"
	"yandecore/internal/store"
)

var version = "dev"

var (
	flagBaseDir  string
	flagVerbose  bool
	flagAPIHosts []string
)

// appContext bundles the long-lived components every subcommand needs.
// Built once in PersistentPreRunE and stashed on the command via context.
type appContext struct {
	cfg        config.Config
	configMgr  *config.Manager
	logger     *slog.Logger
	bus        *eventbus.Bus
	store      *store.Store
	sess       *session.Session
	validator  *security.URLValidator
	imgCache   *cache.MemoryAwareLRUCache
	downloader *downloader.Manager
	preloader  *preloader.Preloader
	recovery   *favorites.Recovery
}

type appContextKey struct{}

func withAppContext(cmd *cobra.Command, ac *appContext) {
	cmd.SetContext(contextWithApp(cmd.Context(), ac))
}

func appFrom(cmd *cobra.Command) *appContext {
	ac, _ := appFromContext(cmd.Context())
	return ac
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "yandecore",
		Short:         "Core data-movement subsystem CLI",
		Long:          "Exercises the cache, preloader, downloader, and favorites-recovery core from the command line.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ac, err := buildAppContext()
			if err != nil {
				return err
			}
			withAppContext(cmd, ac)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "library root (overrides config.json)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringSliceVar(&flagAPIHosts, "allowed-host", nil, "additional host allowed by the URL validator")

	cmd.AddCommand(newWarmCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func buildAppContext() (*appContext, error) {
	stateDir, err := os.UserConfigDir()
	if err != nil {
		stateDir = "."
	}
	stateDir = filepath.Join(stateDir, "yandecore")

	configMgr := config.New(stateDir, nil)
	cfg := configMgr.Load()
	if flagBaseDir != "" {
		cfg.BaseDir = flagBaseDir
	}
	cfg.AllowedHosts = append(cfg.AllowedHosts, flagAPIHosts...)
	cfg.Validate()

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	bus := eventbus.New(nil)

	log, err := logger.New(filepath.Join(stateDir, "logs"), os.Stderr, bus, level)
	if err != nil {
		return nil, fmt.Errorf("yandecore: init logger: %w", err)
	}

	st := store.New(log)
	sess := session.New(session.Config{UserAgent: "yandecore-cli/" + version, Logger: log})
	validator := security.NewURLValidator(cfg.AllowedSchemes, cfg.AllowedHosts)

	imgCache := cache.NewMemoryAwareLRUCache(cfg.MaxImageCache, int64(cfg.MaxMemoryMB)*1024*1024, cache.DefaultSizeFunc)

	dl := downloader.New(downloader.Config{
		MaxWorkers:    cfg.MaxDownloadWorkers,
		MaxRetries:    cfg.Download.MaxRetries,
		ChunkSize:     cfg.Download.ChunkSize,
		MaxFileMB:     cfg.MaxFileMB,
		DiskMinFreeGB: cfg.Download.DiskMinFreeGB,
		UserAgent:     "yandecore-cli/" + version,
		Validator:     validator,
		Bus:           bus,
		Logger:        log,
	})

	pl := preloader.New(preloader.Config{
		Workers:   cfg.PreloadWorkers,
		Session:   sess,
		Cache:     imgCache,
		Bus:       bus,
		Validator: validator,
		Logger:    log,
	})

	rec := favorites.New(dl, cfg.BaseDir, log)

	return &appContext{
		cfg:        cfg,
		configMgr:  configMgr,
		logger:     log,
		bus:        bus,
		store:      st,
		sess:       sess,
		validator:  validator,
		imgCache:   imgCache,
		downloader: dl,
		preloader:  pl,
		recovery:   rec,
	}, nil
}
