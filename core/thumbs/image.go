package thumbs

import (
	"bytes"
	"context"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// 标准图像格式，imaging可直接解码
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// RAW格式，优先提取嵌入预览
var rawExtensions = map[string]bool{
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true,
	".dng": true, ".orf": true, ".raf": true, ".rw2": true,
	".pef": true, ".srw": true,
}

// ImageProvider 图像缩略图提供者
//
// 标准格式直接解码；RAW格式先尝试嵌入预览（快），
// 没有可用预览时返回类型化错误而不是做完整demosaic。
type ImageProvider struct {
	logger       *zap.Logger
	exiftoolPath string
}

// NewImageProvider 创建图像缩略图提供者
func NewImageProvider(logger *zap.Logger, exiftoolPath string) *ImageProvider {
	return &ImageProvider{
		logger:       logger.Named("thumbs.image"),
		exiftoolPath: exiftoolPath,
	}
}

// Supports 判断是否支持该文件
func (p *ImageProvider) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return imageExtensions[ext] || rawExtensions[ext]
}

// Generate 生成缩略图
func (p *ImageProvider) Generate(ctx context.Context, path string, maxDim int) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &GenerateError{Path: path, Reason: "file not accessible", Cause: err}
	}

	ext := strings.ToLower(filepath.Ext(path))

	var img image.Image
	var err error
	if rawExtensions[ext] {
		img, err = p.decodeRawPreview(ctx, path)
	} else {
		// AutoOrientation按EXIF方向自动旋转
		img, err = imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			err = &GenerateError{Path: path, Reason: "decode failed", Cause: err}
		}
	}
	if err != nil {
		return nil, err
	}

	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos), nil
}

// decodeRawPreview 从RAW文件提取嵌入预览并解码
func (p *ImageProvider) decodeRawPreview(ctx context.Context, path string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// -b -PreviewImage 输出嵌入的JPEG预览
	cmd := exec.CommandContext(ctx, p.exiftoolPath, "-b", "-PreviewImage", path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, &GenerateError{Path: path, Reason: "embedded preview extraction failed", Cause: err}
	}

	if stdout.Len() == 0 {
		// 部分RAW把预览存在JpgFromRaw标签里
		cmd = exec.CommandContext(ctx, p.exiftoolPath, "-b", "-JpgFromRaw", path)
		stdout.Reset()
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil || stdout.Len() == 0 {
			return nil, &GenerateError{Path: path, Reason: "no usable embedded preview"}
		}
	}

	img, err := imaging.Decode(bytes.NewReader(stdout.Bytes()), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &GenerateError{Path: path, Reason: "embedded preview decode failed", Cause: err}
	}

	p.logger.Debug("使用嵌入预览生成RAW缩略图", zap.String("file", path))
	return img, nil
}
