package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/cache"
	"oncut/core/errs"
	"oncut/core/exiftool"
	"oncut/core/rename"
	"oncut/core/shutdown"
	"oncut/core/state"
	"oncut/core/thumbs"
	"oncut/core/tools"
	"oncut/core/workers"
	xlog "oncut/internal/logger"
)

// Context 应用依赖容器
//
// 所有组件在此显式组装并注入，不使用包级单例。
// 组件的生命周期由关闭协调器按阶段回收。
type Context struct {
	Logger       *zap.Logger
	ConfigMgr    *config.ConfigManager
	ErrorHandler *errs.Handler

	Locator  *tools.Locator
	Registry *tools.Registry

	Exiftool *exiftool.Client
	Cache    *cache.Store

	ImageThumbs *thumbs.ImageProvider
	VideoThumbs *thumbs.VideoProvider

	FileStore      *state.FileStore
	SelectionStore *state.SelectionStore

	Engine  *rename.Engine
	Workers *workers.Pool

	Shutdown *shutdown.Coordinator
}

// hashAdapter 将可用性缓存适配为引擎的哈希查询接口
type hashAdapter struct {
	store *cache.Store
}

func (a *hashAdapter) HashValue(path string) (string, bool) {
	rec, ok := a.store.GetHash(path)
	if !ok {
		return "", false
	}
	return rec.Hash, true
}

// New 组装应用上下文
//
// 外部工具缺失不算致命：exiftool/ffmpeg相关组件在
// 对应工具可用时才创建，调用方按nil判断能力。
func New(logger *zap.Logger, cfgMgr *config.ConfigManager) (*Context, error) {
	cfg := cfgMgr.GetConfig()
	errorHandler := errs.NewHandler(logger)

	locator := tools.NewLocator(logger, cfg.Tools.BinDir)
	registry := tools.NewRegistry(locator)
	registry.CheckDependencies()

	store, err := cache.NewStore(xlog.CreateComponentLogger(logger, "cache"), cfg.Cache.Path, errorHandler)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Logger:         logger,
		ConfigMgr:      cfgMgr,
		ErrorHandler:   errorHandler,
		Locator:        locator,
		Registry:       registry,
		Cache:          store,
		FileStore:      state.NewFileStore(),
		SelectionStore: state.NewSelectionStore(),
		Shutdown:       shutdown.NewCoordinator(logger, cfg.Shutdown),
	}

	pool, err := workers.NewPool(cfg.Concurrency.MaxWorkers, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	ctx.Workers = pool

	if exiftoolPath := resolvePath(cfg.Tools.ExiftoolPath, locator, "exiftool"); exiftoolPath != "" {
		ctx.Exiftool = exiftool.NewClient(xlog.CreateComponentLogger(logger, "exiftool"), cfg.Metadata, exiftoolPath, errorHandler)
		// 保活进程供写入/批量场景使用；启动失败降级为纯一次性调用
		if err := ctx.Exiftool.StartStayOpen(); err != nil {
			logger.Warn("exiftool保活进程启动失败", zap.Error(err))
		}
		ctx.ImageThumbs = thumbs.NewImageProvider(xlog.CreateComponentLogger(logger, "thumbs"), exiftoolPath)
	} else {
		// exiftool缺席时仍可生成标准图片缩略图
		ctx.ImageThumbs = thumbs.NewImageProvider(xlog.CreateComponentLogger(logger, "thumbs"), "")
	}

	ffmpegPath := resolvePath(cfg.Tools.FFmpegPath, locator, "ffmpeg")
	ffprobePath := resolvePath(cfg.Tools.FFprobePath, locator, "ffprobe")
	if ffmpegPath != "" && ffprobePath != "" {
		ctx.VideoThumbs = thumbs.NewVideoProvider(xlog.CreateComponentLogger(logger, "thumbs"), ffmpegPath, ffprobePath,
			time.Duration(cfg.Thumbnails.FrameTimeout)*time.Second)
	}

	ctx.Engine = rename.NewEngine(xlog.CreateComponentLogger(logger, "rename"), cfg.Rename, store, &hashAdapter{store: store}, errorHandler)

	ctx.registerShutdownPhases(cfg)

	return ctx, nil
}

// resolvePath 显式路径优先，否则走定位器
func resolvePath(explicit string, locator *tools.Locator, name string) string {
	if explicit != "" {
		return explicit
	}
	path, err := locator.Locate(name)
	if err != nil {
		return ""
	}
	return path
}

// registerShutdownPhases 把各组件挂到对应的关闭阶段
func (c *Context) registerShutdownPhases(cfg *config.Config) {
	c.Shutdown.Register(shutdown.PhaseWorkerPool, func() (bool, error) {
		timeout := time.Duration(cfg.Shutdown.WorkerPoolTimeout * float64(time.Second))
		return c.Workers.Release(timeout), nil
	})
	c.Shutdown.RegisterHealthCheck(shutdown.PhaseWorkerPool, func() string {
		submitted, completed, failed := c.Workers.Stats()
		return fmt.Sprintf("running=%d submitted=%d completed=%d failed=%d",
			c.Workers.Running(), submitted, completed, failed)
	})

	c.Shutdown.Register(shutdown.PhaseThumbnails, func() (bool, error) {
		thumbs.ForceCleanupFFmpegProcesses(c.Logger)
		return true, nil
	})

	c.Shutdown.Register(shutdown.PhaseDatabase, func() (bool, error) {
		if err := c.Cache.Close(); err != nil {
			return false, err
		}
		return true, nil
	})

	if c.Exiftool != nil {
		c.Shutdown.Register(shutdown.PhaseExiftool, func() (bool, error) {
			if err := c.Exiftool.Close(); err != nil {
				return false, err
			}
			exiftool.ForceCleanupAllExiftoolProcesses(c.Logger)
			return true, nil
		})
		c.Shutdown.RegisterHealthCheck(shutdown.PhaseExiftool, func() string {
			if c.Exiftool.IsHealthy() {
				return "healthy"
			}
			return "degraded"
		})
	}

	c.Shutdown.Register(shutdown.PhaseFinalize, func() (bool, error) {
		if err := c.ConfigMgr.Close(); err != nil {
			return false, err
		}
		return true, nil
	})
}
