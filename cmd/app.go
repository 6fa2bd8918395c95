package cmd

import (
	"context"
	"fmt"
	"time"

	"VKSaver/cache"
	"VKSaver/config"
	"VKSaver/core/audio"
	"VKSaver/core/auth"
	"VKSaver/core/download"
	"VKSaver/core/pipeline"
	"VKSaver/core/probe"
	"VKSaver/core/proxysvc"
	"VKSaver/core/upload"
	"VKSaver/core/vk"
	"VKSaver/core/xray"
	"VKSaver/db"
	"VKSaver/logger"
	"VKSaver/repository"
	"VKSaver/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// app 聚合服务运行所需的全部组件
type app struct {
	cfg        *config.Config
	gdb        *gorm.DB
	rdb        *redis.Client
	supervisor *xray.Supervisor
	prober     *probe.Prober
	archives   *storage.ArchiveStore // 仅 UPLOAD_TARGET=minio

	auth      *auth.Service
	downloads *download.Service
	proxies   *proxysvc.Service
}

func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
}

// newApp 按配置装配存储、缓存、上传目标与服务
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	if err := db.AutoMigrateModels(gdb); err != nil {
		a.Close()
		return nil, err
	}

	var (
		sessions cache.SessionStore
		cancels  cache.CancelRegistry
	)
	switch cfg.StoreBackend {
	case "redis":
		rdb, err := db.ConnectRedis(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rdb = rdb
		sessions = cache.NewRedisSessionStore(rdb, cfg.SessionTTL)
		cancels = cache.NewRedisCancelRegistry(rdb)
	case "memory", "":
		sessions = cache.NewMemorySessionStore()
		cancels = cache.NewMemoryCancelRegistry()
	default:
		a.Close()
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if store, ok := uploader.(*storage.ArchiveStore); ok {
		a.archives = store
	}

	a.supervisor = xray.NewSupervisor(xray.Options{
		Binary:      cfg.Xray.Binary,
		ConfigDir:   cfg.Xray.ConfigDir,
		SettleDelay: cfg.Xray.SettleDelay,
		StopGrace:   cfg.Xray.StopGrace,
	})
	a.prober = probe.NewProber()
	if cfg.GeoIPPath != "" {
		if err := a.prober.WithGeoIP(cfg.GeoIPPath); err != nil {
			logger.Warn("[newApp] geoip database unavailable", logger.ErrorField(err))
		}
	}

	tasks := repository.NewGormTaskRepository(gdb)
	a.proxies = proxysvc.NewService(repository.NewGormProxyRepository(gdb), a.supervisor, a.prober)
	a.proxies.WaitBinary = func(ctx context.Context) error {
		return xray.WaitForBinary(ctx, cfg.Xray.Binary)
	}

	vkClient := vk.NewClient(cfg.VKAPIURL, cfg.VKAPIVersion, cfg.VKRateInterval, a.proxies)
	a.auth = auth.NewService(vkClient, sessions, auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL))

	orch := pipeline.NewOrchestrator(pipeline.Options{
		DownloadDir:  cfg.Pipeline.DownloadDir,
		Concurrency:  cfg.Pipeline.Concurrency,
		Threshold:    cfg.Pipeline.ChunkThreshold,
		Ceiling:      cfg.Pipeline.UploadCeiling,
		FetchTimeout: cfg.Pipeline.FetchTimeout,
		CoverTimeout: cfg.Pipeline.CoverTimeout,
	}, pipeline.Deps{
		Tasks:    tasks,
		Sessions: sessions,
		Cancels:  cancels,
		Source:   vkClient,
		Uploader: uploader,
		Proxies:  a.proxies,
		Tagger:   audio.NewFFmpegTagger(cfg.FFmpegPath),
	})
	a.downloads = download.NewService(ctx, tasks, cancels, orch)
	return a, nil
}

func newUploader(ctx context.Context, cfg *config.Config) (upload.Uploader, error) {
	switch cfg.UploadTarget {
	case "minio":
		store, err := storage.NewArchiveStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "tempshare", "":
		return upload.NewTempshare(cfg.TempshareURL, cfg.Pipeline.ShareDurationDays, cfg.Pipeline.UploadTimeout), nil
	}
	return nil, fmt.Errorf("unsupported UPLOAD_TARGET %q", cfg.UploadTarget)
}

// 关闭时等待下载任务写入终态的最长时间
const drainTimeout = 15 * time.Second

// Close 等待进行中的任务收尾，停止所有隧道并关闭连接
func (a *app) Close() {
	if a.downloads != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := a.downloads.Drain(ctx); err != nil {
			logger.Warn("[app.Close] download runs still in flight", logger.ErrorField(err))
		}
		cancel()
	}
	if a.proxies != nil {
		a.proxies.StopRestore()
	}
	if a.supervisor != nil {
		a.supervisor.Shutdown()
	}
	if a.prober != nil {
		_ = a.prober.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("[app.Close] redis close failed", logger.ErrorField(err))
		}
	}
	if err := db.CloseGormDB(a.gdb); err != nil {
		logger.Warn("[app.Close] database close failed", logger.ErrorField(err))
	}
}
