package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"stashcast/config"
	"stashcast/crossplatform"
	"stashcast/database"
	"stashcast/download"
	"stashcast/ffmpeg"
	"stashcast/items"
	"stashcast/media"
	"stashcast/pipeline"
	"stashcast/playlists"
	"stashcast/prefetch"
	"stashcast/process"
	"stashcast/progress"
	"stashcast/strategy"
	"stashcast/users"
	"stashcast/ytdlp"
)

// app holds everything built from one configuration.
type app struct {
	cfg *config.Config

	store      *items.Store
	ytdlp      *ytdlp.Client
	ffmpeg     *ffmpeg.Runner
	tracker    *progress.Tracker
	limiter    *pipeline.Limiter
	locks      *pipeline.Locks
	strategies *strategy.Resolver
	alternates *crossplatform.Resolver
	orch       *pipeline.Orchestrator
	manager    *pipeline.Manager
	service    *pipeline.Service
}

func initPackages() {
	for _, initFn := range []func() error{
		func() error { return items.Init(log) },
		func() error { return ytdlp.Init(log) },
		func() error { return ffmpeg.Init(log) },
		func() error { return prefetch.Init(log) },
		func() error { return crossplatform.Init(log) },
		func() error { return download.Init(log) },
		func() error { return process.Init(log) },
		func() error { return pipeline.Init(log) },
	} {
		if err := initFn(); err != nil {
			log.Panicln(err)
		}
	}
}

func newApp(cfg *config.Config) (*app, error) {
	initPackages()

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir %s: %w", cfg.MediaDir, err)
	}

	db, err := database.Open(cfg.DatabasePath(), &items.Item{}, &playlists.Playlist{}, &users.User{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath(), err)
	}
	if err := database.Init(db, log); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.store = items.NewStore(db)
	a.ytdlp = ytdlp.New(cfg.YtdlpBin, cfg.ToolTimeout)
	a.ffmpeg = ffmpeg.New(cfg.FFmpegBin, cfg.FFprobeBin, cfg.ToolTimeout)
	a.tracker = progress.NewTracker(0)
	a.limiter = pipeline.NewLimiter(a.store, cfg.MaxEpisodes)
	a.locks = pipeline.NewLocks(filepath.Join(cfg.ConfigDir, "locks"))
	a.strategies = strategy.NewResolver(cfg.DRMHostList())

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	a.alternates = crossplatform.NewResolver(client, cfg.OEmbedURL, cfg.SearchLimit,
		crossplatform.NewSearchCatalog("youtube", cfg.SearchVideo, a.ytdlp),
		crossplatform.NewSearchCatalog("soundcloud", cfg.SearchAudio, a.ytdlp),
		crossplatform.NewSearchCatalog("bilibili", cfg.SearchVideoAlt, a.ytdlp),
		crossplatform.NewPodcastCatalog(cfg.PodcastSearchURL, client),
	)

	// downloads may outlast the metadata timeout as long as data keeps flowing
	downloadClient := download.NewClient(cfg.HTTPTimeout)
	a.orch = pipeline.NewOrchestrator(a.store, pipeline.Deps{
		Strategies: a.strategies,
		Prefetcher: prefetch.New(a.ytdlp, client),
		Downloader: download.New(a.ytdlp, a.ffmpeg, downloadClient, download.Config{
			MaxSize:     cfg.MaxDownloadSize,
			SubLang:     cfg.SubtitleLang,
			IdleTimeout: cfg.HTTPTimeout,
			ExtraArgs: map[media.Kind][]string{
				media.Audio: config.Args(cfg.YtdlpArgsAudio),
				media.Video: config.Args(cfg.YtdlpArgsVideo),
			},
		}),
		Processor: process.New(a.ffmpeg, process.Config{
			Args: map[media.Kind][]string{
				media.Audio: config.Args(cfg.FFmpegArgsAudio),
				media.Video: config.Args(cfg.FFmpegArgsVideo),
			},
		}),
		Alternates: a.alternates,
		Progress:   a.tracker,
		Locks:      a.locks,
	}, pipeline.Options{
		MediaDir:      cfg.MediaDir,
		WorkerTimeout: cfg.WorkerTimeout,
		MinFreeDisk:   uint64(cfg.MinFreeDisk),
		SlugMaxWords:  cfg.SlugMaxWords,
		SlugMaxChars:  cfg.SlugMaxChars,
		AutoSelect:    cfg.AutoSelect,

		SummarySentences: cfg.SummarySentences,
	})

	a.manager = pipeline.NewManager(a.orch, a.store, a.locks, pipeline.ManagerOptions{
		Concurrency: cfg.MaxConcurrency,
		MediaDir:    cfg.MediaDir,
		StaleAge:    cfg.StaleTmpAge,
	})
	a.service = pipeline.NewService(a.store, pipeline.ServiceDeps{
		Runner:     a.orch,
		Dispatcher: a.manager,
		Limiter:    a.limiter,
		Strategies: a.strategies,
		Alternates: a.alternates,
		Progress:   a.tracker,
		MediaDir:   cfg.MediaDir,
	})
	a.manager.OnDone = a.service.OnDone
	return a, nil
}

func (a *app) Close() {
	a.manager.Close()
	database.Fini()
}

func ensureAdminAccount(a *app) error {
	if a.cfg.AdminPassword == "" {
		return errors.New("please set STASHCAST_ADMIN_PASSWORD")
	}
	return users.Ensure(database.Get(), "admin", a.cfg.AdminPassword)
}
