package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"oncut/core/tools"
)

// 帧质量阈值：中心采样区平均亮度和对比度下限
const (
	minFrameLuma     = 10.0
	minFrameContrast = 5.0
)

// 首尾各跳过的秒数，避开黑场片头/片尾
const edgeMargin = 2.0

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".wmv": true, ".flv": true, ".ts": true, ".3gp": true,
}

// VideoProvider 视频缩略图提供者
//
// 通过ffprobe取时长，在多个候选时间点用ffmpeg快速seek
// 抽帧，经亮度/对比度质量门控后取第一个合格帧。
type VideoProvider struct {
	logger       *zap.Logger
	ffmpegPath   string
	ffprobePath  string
	frameTimeout time.Duration
}

// NewVideoProvider 创建视频缩略图提供者
func NewVideoProvider(logger *zap.Logger, ffmpegPath, ffprobePath string, frameTimeout time.Duration) *VideoProvider {
	if frameTimeout <= 0 {
		frameTimeout = 15 * time.Second
	}
	return &VideoProvider{
		logger:       logger.Named("thumbs.video"),
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		frameTimeout: frameTimeout,
	}
}

// Supports 判断是否支持该文件
func (p *VideoProvider) Supports(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// Generate 生成视频缩略图
func (p *VideoProvider) Generate(ctx context.Context, path string, maxDim int) (image.Image, error) {
	duration, err := p.probeDuration(ctx, path)
	if err != nil {
		return nil, &GenerateError{Path: path, Reason: "duration probe failed", Cause: err}
	}

	for _, ts := range candidateTimestamps(duration) {
		frame, err := p.extractFrame(ctx, path, ts, maxDim)
		if err != nil {
			p.logger.Debug("候选帧提取失败",
				zap.String("file", path),
				zap.Float64("timestamp", ts),
				zap.Error(err))
			continue
		}

		if isValidFrame(frame) {
			return frame, nil
		}

		p.logger.Debug("候选帧质量不合格，尝试下一个时间点",
			zap.String("file", path),
			zap.Float64("timestamp", ts))
	}

	return nil, &GenerateError{Path: path, Reason: "no acceptable frame at any candidate timestamp"}
}

// probeDuration 获取视频时长
//
// 两级查询：先取视频流时长，流时长缺失或为N/A时
// 回退到容器时长。
func (p *VideoProvider) probeDuration(ctx context.Context, path string) (float64, error) {
	streamDur, err := p.runProbe(ctx, path,
		"-select_streams", "v:0",
		"-show_entries", "stream=duration")
	if err == nil && streamDur > 0 {
		return streamDur, nil
	}

	containerDur, err := p.runProbe(ctx, path,
		"-show_entries", "format=duration")
	if err != nil {
		return 0, err
	}
	if containerDur <= 0 {
		return 0, fmt.Errorf("no usable duration for %s", path)
	}
	return containerDur, nil
}

// runProbe 执行一次ffprobe查询并解析数值输出
func (p *VideoProvider) runProbe(ctx context.Context, path string, entryArgs ...string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	args := []string{"-v", "error", "-of", "default=noprint_wrappers=1:nokey=1"}
	args = append(args, entryArgs...)
	args = append(args, path)

	output, err := runCommand(ctx, p.ffprobePath, args)
	if err != nil {
		return 0, err
	}

	value := strings.TrimSpace(string(output))
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("probe returned no value")
	}

	return strconv.ParseFloat(value, 64)
}

// candidateTimestamps 计算候选抽帧时间点
//
// 主候选取35%处，备选15/50/70%，全部限制在
// [2s, duration-2s] 范围内。
func candidateTimestamps(duration float64) []float64 {
	fractions := []float64{0.35, 0.15, 0.50, 0.70}

	lo := edgeMargin
	hi := duration - edgeMargin
	if hi < lo {
		// 太短的视频直接取中点
		mid := duration / 2
		return []float64{mid}
	}

	seen := make(map[float64]bool)
	out := make([]float64, 0, len(fractions))
	for _, f := range fractions {
		ts := duration * f
		if ts < lo {
			ts = lo
		}
		if ts > hi {
			ts = hi
		}
		if !seen[ts] {
			seen[ts] = true
			out = append(out, ts)
		}
	}
	return out
}

// extractFrame 在指定时间点抽取一帧
//
// -ss放在-i之前走关键帧快速seek；单帧经scale滤镜
// 缩放后以MJPEG直接管道输出，不落临时文件。
func (p *VideoProvider) extractFrame(ctx context.Context, path string, timestamp float64, maxDim int) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, p.frameTimeout)
	defer cancel()

	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", maxDim, maxDim)
	args := []string{
		"-ss", strconv.FormatFloat(timestamp, 'f', 2, 64),
		"-i", path,
		"-vframes", "1",
		"-vf", scale,
		"-q:v", "2",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}

	output, err := runCommand(ctx, p.ffmpegPath, args)
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame data")
	}

	return jpeg.Decode(bytes.NewReader(output))
}

// isValidFrame 校验帧质量
//
// 采样中心50%区域，平均亮度低于10/255或亮度极差
// 低于5的帧视为退化帧（黑场/纯色）。
func isValidFrame(img image.Image) bool {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return false
	}

	x0 := bounds.Min.X + w/4
	y0 := bounds.Min.Y + h/4
	x1 := bounds.Max.X - w/4
	y1 := bounds.Max.Y - h/4

	var sum float64
	var count int
	minLuma, maxLuma := 255.0, 0.0

	// 步进采样，足够判断质量又不用逐像素扫描
	stepX := (x1 - x0) / 32
	stepY := (y1 - y0) / 32
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	for y := y0; y < y1; y += stepY {
		for x := x0; x < x1; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601亮度
			luma := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			sum += luma
			count++
			if luma < minLuma {
				minLuma = luma
			}
			if luma > maxLuma {
				maxLuma = luma
			}
		}
	}

	if count == 0 {
		return false
	}

	avg := sum / float64(count)
	contrast := maxLuma - minLuma

	return avg >= minFrameLuma && contrast >= minFrameContrast
}

// ForceCleanupFFmpegProcesses 清理孤儿ffmpeg/ffprobe进程
//
// 关闭流程的成功与失败路径都会调用，扫描时间有上界。
func ForceCleanupFFmpegProcesses(logger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return tools.KillOrphans(ctx, logger, "ffmpeg", "ffprobe")
}
