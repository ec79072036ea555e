package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"oncut/core/app"
	"oncut/core/thumbs"
)

var (
	thumbOutput string
	thumbSize   int
)

// thumbCmd 为图片或视频生成缩略图
var thumbCmd = &cobra.Command{
	Use:   "thumb [file]",
	Short: "生成缩略图",
	Long: `为图片或视频文件生成缩略图并保存到磁盘。

RAW图片优先提取嵌入预览；视频会在多个时间点尝试抽帧，
跳过过暗或无内容的帧。

示例:
  oncut thumb photo.cr2 -o photo_thumb.jpg
  oncut thumb clip.mp4 -o clip_thumb.jpg --size 512
  oncut thumb *.mp4 --size 512`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(runThumb),
}

func init() {
	thumbCmd.Flags().StringVarP(&thumbOutput, "output", "o", "", "输出文件路径，仅单文件时有效 (默认 <原名>_thumb.jpg)")
	thumbCmd.Flags().IntVar(&thumbSize, "size", 0, "最大边长 (默认取配置)")
}

func runThumb(a *app.Context, cmd *cobra.Command, args []string) error {
	maxDim := thumbSize
	if maxDim <= 0 {
		maxDim = a.ConfigMgr.GetConfig().Thumbnails.MaxDimension
	}
	if thumbOutput != "" && len(args) > 1 {
		return fmt.Errorf("--output 只能用于单个文件")
	}

	spinner, _ := pterm.DefaultSpinner.Start("生成缩略图...")

	var wg sync.WaitGroup
	var failed int64
	for _, path := range args {
		provider := pickProvider(a, path)
		if provider == nil {
			spinner.Fail("生成失败")
			return fmt.Errorf("不支持的文件类型: %s", filepath.Ext(path))
		}

		path := path
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			if err := generateThumb(ctx, provider, path, maxDim); err != nil {
				atomic.AddInt64(&failed, 1)
				return err
			}
			return nil
		}
		if err := a.Workers.Submit("thumb:"+filepath.Base(path), task); err != nil {
			// 池满时退化为同步生成
			task(context.Background())
		}
	}
	wg.Wait()

	if n := atomic.LoadInt64(&failed); n > 0 {
		spinner.Fail(fmt.Sprintf("%d 个缩略图生成失败，详见日志", n))
		return fmt.Errorf("缩略图生成失败: %d/%d", n, len(args))
	}
	spinner.Success(fmt.Sprintf("缩略图已生成: %d 个文件", len(args)))
	return nil
}

// generateThumb 生成单个缩略图并落盘
func generateThumb(parent context.Context, provider thumbs.Provider, path string, maxDim int) error {
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	img, err := provider.Generate(ctx, path, maxDim)
	if err != nil {
		return err
	}

	output := thumbOutput
	if output == "" {
		ext := filepath.Ext(path)
		output = strings.TrimSuffix(path, ext) + "_thumb.jpg"
	}

	if err := imaging.Save(img, output, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("保存缩略图失败: %w", err)
	}
	return nil
}

// pickProvider 按扩展名选择提供方，图片优先
func pickProvider(a *app.Context, path string) thumbs.Provider {
	if a.ImageThumbs != nil && a.ImageThumbs.Supports(path) {
		return a.ImageThumbs
	}
	if a.VideoThumbs != nil && a.VideoThumbs.Supports(path) {
		return a.VideoThumbs
	}
	return nil
}
