package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 工具下载地址，用于未找到时的提示信息
var downloadURLs = map[string]string{
	"exiftool": "https://exiftool.org/",
	"ffmpeg":   "https://ffmpeg.org/download.html",
	"ffprobe":  "https://ffmpeg.org/download.html",
}

// ToolNotFoundError 工具未找到错误
type ToolNotFoundError struct {
	Name        string
	Searched    []string
	DownloadURL string
}

// Error 实现error接口
func (e *ToolNotFoundError) Error() string {
	var builder strings.Builder
	builder.WriteString("tool not found: ")
	builder.WriteString(e.Name)
	builder.WriteString(" (searched: ")
	builder.WriteString(strings.Join(e.Searched, ", "))
	builder.WriteString(")")
	if e.DownloadURL != "" {
		builder.WriteString(", download: ")
		builder.WriteString(e.DownloadURL)
	}
	return builder.String()
}

// Locator 外部工具定位器
//
// 查找顺序：内置的 bin/<platform>/ 目录（darwin额外检查
// bin/darwin-<arch>/），然后系统PATH。都找不到时返回
// ToolNotFoundError并附带下载地址。
type Locator struct {
	logger     *zap.Logger
	binDir     string
	toolCache  map[string]bool
	pathCache  map[string]string
	cacheMutex sync.RWMutex
}

// NewLocator 创建新的工具定位器
func NewLocator(logger *zap.Logger, binDir string) *Locator {
	return &Locator{
		logger:    logger,
		binDir:    binDir,
		toolCache: make(map[string]bool),
		pathCache: make(map[string]string),
	}
}

// Locate 解析工具的可执行文件路径
func (l *Locator) Locate(name string) (string, error) {
	l.cacheMutex.RLock()
	if path, ok := l.pathCache[name]; ok {
		l.cacheMutex.RUnlock()
		return path, nil
	}
	l.cacheMutex.RUnlock()

	searched := make([]string, 0, 3)

	// 1. 内置的平台目录
	for _, dir := range l.bundledDirs() {
		candidate := filepath.Join(dir, executableName(name))
		searched = append(searched, candidate)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			l.cachePath(name, candidate)
			return candidate, nil
		}
	}

	// 2. 系统PATH
	searched = append(searched, "$PATH")
	if path, err := exec.LookPath(name); err == nil {
		l.cachePath(name, path)
		return path, nil
	}

	return "", &ToolNotFoundError{
		Name:        name,
		Searched:    searched,
		DownloadURL: downloadURLs[name],
	}
}

// bundledDirs 返回当前平台的内置工具目录列表
func (l *Locator) bundledDirs() []string {
	if l.binDir == "" {
		return nil
	}

	dirs := []string{filepath.Join(l.binDir, runtime.GOOS)}
	// darwin同时分发arm64/amd64两套二进制
	if runtime.GOOS == "darwin" {
		dirs = append(dirs, filepath.Join(l.binDir, "darwin-"+runtime.GOARCH))
	}
	return dirs
}

func (l *Locator) cachePath(name, path string) {
	l.cacheMutex.Lock()
	l.pathCache[name] = path
	l.cacheMutex.Unlock()
}

// executableName 按平台附加可执行文件后缀
func executableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}

// IsToolAvailable 检查工具是否可用（带缓存）
func (l *Locator) IsToolAvailable(toolPath string) bool {
	l.cacheMutex.RLock()
	if available, exists := l.toolCache[toolPath]; exists {
		l.cacheMutex.RUnlock()
		return available
	}
	l.cacheMutex.RUnlock()

	available := l.checkTool(toolPath)

	l.cacheMutex.Lock()
	l.toolCache[toolPath] = available
	l.cacheMutex.Unlock()

	return available
}

// checkTool 实际检查工具是否可用
func (l *Locator) checkTool(toolPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, toolPath, "-version")
	err := cmd.Run()

	// exiftool使用-ver，其余工具在-version失败时再试--version
	if err != nil {
		cmd = exec.CommandContext(ctx, toolPath, "-ver")
		err = cmd.Run()
	}
	if err != nil {
		cmd = exec.CommandContext(ctx, toolPath, "--version")
		err = cmd.Run()
	}

	if err != nil {
		l.logger.Debug("工具不可用", zap.String("tool", toolPath), zap.Error(err))
	} else {
		l.logger.Debug("工具可用", zap.String("tool", toolPath))
	}

	return err == nil
}

// ToolInfo 工具信息
type ToolInfo struct {
	Name         string
	Path         string
	Version      string
	Required     bool
	Installed    bool
	ErrorMessage string
}

// Registry 工具注册表，跟踪所有外部工具依赖
type Registry struct {
	locator *Locator
	tools   map[string]*ToolInfo
}

// NewRegistry 创建工具注册表
func NewRegistry(locator *Locator) *Registry {
	r := &Registry{
		locator: locator,
		tools:   make(map[string]*ToolInfo),
	}

	r.tools["exiftool"] = &ToolInfo{Name: "ExifTool", Path: "exiftool", Required: true}
	r.tools["ffmpeg"] = &ToolInfo{Name: "FFmpeg", Path: "ffmpeg", Required: false}
	r.tools["ffprobe"] = &ToolInfo{Name: "FFprobe", Path: "ffprobe", Required: false}

	return r
}

// CheckDependencies 检查所有依赖
func (r *Registry) CheckDependencies() {
	for _, tool := range r.tools {
		path, err := r.locator.Locate(tool.Path)
		if err != nil {
			tool.ErrorMessage = err.Error()
			tool.Installed = false
			continue
		}

		tool.Path = path
		tool.Installed = true

		if version, err := toolVersion(path); err == nil {
			tool.Version = version
		}
	}
}

// toolVersion 获取工具版本
func toolVersion(toolPath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if strings.Contains(filepath.Base(toolPath), "exiftool") {
		cmd = exec.CommandContext(ctx, toolPath, "-ver")
	} else {
		cmd = exec.CommandContext(ctx, toolPath, "-version")
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}

	return strings.Split(strings.TrimSpace(string(output)), "\n")[0], nil
}

// GetTool 获取工具信息
func (r *Registry) GetTool(name string) *ToolInfo {
	return r.tools[name]
}

// MissingRequiredTools 获取缺失的必需工具
func (r *Registry) MissingRequiredTools() []*ToolInfo {
	var missing []*ToolInfo
	for _, tool := range r.tools {
		if tool.Required && !tool.Installed {
			missing = append(missing, tool)
		}
	}
	return missing
}
