package thumbs

import (
	"context"
	"image"
	"strings"
)

// GenerateError 缩略图生成错误
type GenerateError struct {
	Path   string
	Reason string
	Cause  error
}

// Error 实现error接口
func (e *GenerateError) Error() string {
	var builder strings.Builder
	builder.WriteString("thumbnail generation failed: ")
	builder.WriteString(e.Reason)
	builder.WriteString(" (file: ")
	builder.WriteString(e.Path)
	builder.WriteString(")")
	if e.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Cause.Error())
	}
	return builder.String()
}

// Unwrap 支持错误链
func (e *GenerateError) Unwrap() error {
	return e.Cause
}

// Provider 缩略图提供者
//
// 无状态策略对象，把文件路径变成解码后的位图。
type Provider interface {
	// Supports 判断是否支持该文件
	Supports(path string) bool

	// Generate 生成缩略图，按maxDim等比缩放
	Generate(ctx context.Context, path string, maxDim int) (image.Image, error)
}
