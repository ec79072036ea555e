package exiftool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/errs"
)

// 扩展模式结果中的内部标记键
const ExtendedMarker = "__extended__"

// 连续失败达到该次数后视为不健康
const unhealthyThreshold = 5

// 通用调用参数：JSON输出、UTF-8文件名、大文件支持
var baseArgs = []string{
	"-json",
	"-charset", "filename=utf8",
	"-api", "largefilesupport=1",
}

// Client ExifTool进程包装器
//
// 保活进程（-stay_open）由锁保护，仅用于构造和关闭；
// 读取走独立的一次性调用，可靠性优先于吞吐。
type Client struct {
	logger       *zap.Logger
	cfg          config.MetadataConfig
	exiftoolPath string
	errorHandler *errs.Handler

	mu        sync.Mutex
	stayOpen  *exec.Cmd
	stayStdin io.WriteCloser
	closed    bool

	consecutiveErrors int32
}

// NewClient 创建ExifTool客户端
func NewClient(logger *zap.Logger, cfg config.MetadataConfig, exiftoolPath string, errorHandler *errs.Handler) *Client {
	return &Client{
		logger:       logger.Named("exiftool"),
		cfg:          cfg,
		exiftoolPath: exiftoolPath,
		errorHandler: errorHandler,
	}
}

// StartStayOpen 启动保活进程
//
// 保活进程为写入/批量场景预留；启动失败不影响一次性读取路径。
func (c *Client) StartStayOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.errorHandler.WrapError("启动保活进程", nil, "client already closed")
	}
	if c.stayOpen != nil {
		return nil
	}

	cmd := exec.Command(c.exiftoolPath, "-stay_open", "True", "-@", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return c.errorHandler.WrapError("创建stdin管道", err)
	}

	if err := cmd.Start(); err != nil {
		return c.errorHandler.WrapError("启动exiftool保活进程", err)
	}

	c.stayOpen = cmd
	c.stayStdin = stdin
	c.logger.Debug("exiftool保活进程已启动", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// StayOpenRunning 返回保活进程是否处于运行状态
func (c *Client) StayOpenRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stayOpen != nil && !c.closed
}

// GetMetadata 读取单个文件的元数据
//
// 失败时返回空映射，绝不向调用方抛出异常；
// 连续失败通过健康检查暴露。
func (c *Client) GetMetadata(path string, extended bool) map[string]interface{} {
	timeout := time.Duration(c.cfg.ReadTimeout) * time.Second

	args := append([]string{}, baseArgs...)
	if extended {
		// 提取嵌入的元数据段
		args = append(args, "-ee", "-a", "-G")
	}
	args = append(args, path)

	objects, err := c.invoke(args, timeout)
	if err != nil {
		c.recordFailure("get_metadata", path, err)
		return map[string]interface{}{}
	}
	c.recordSuccess()

	if len(objects) == 0 {
		return map[string]interface{}{}
	}

	result := objects[0]
	if extended {
		mergeEmbeddedSegments(result, objects[1:])
		result[ExtendedMarker] = true
	}
	return result
}

// GetMetadataBatch 批量读取多个文件的元数据
//
// 单次调用覆盖全部路径，超时随文件数量动态增长，
// 避免N次进程创建开销。
func (c *Client) GetMetadataBatch(paths []string, extended bool) []map[string]interface{} {
	if len(paths) == 0 {
		return nil
	}

	timeout := c.cfg.BatchTimeout(len(paths))

	args := append([]string{}, baseArgs...)
	// 批量模式附带分组前缀以便区分来源
	args = append(args, "-G")
	if extended {
		args = append(args, "-ee", "-a")
	}
	args = append(args, paths...)

	objects, err := c.invoke(args, timeout)
	if err != nil {
		c.recordFailure("get_metadata_batch", "", err)
		// 保持与输入等长的空结果
		out := make([]map[string]interface{}, len(paths))
		for i := range out {
			out[i] = map[string]interface{}{}
		}
		return out
	}
	c.recordSuccess()

	if extended {
		for _, obj := range objects {
			obj[ExtendedMarker] = true
		}
	}

	// exiftool按输入顺序输出，不足时补空
	out := make([]map[string]interface{}, len(paths))
	for i := range paths {
		if i < len(objects) {
			out[i] = objects[i]
		} else {
			out[i] = map[string]interface{}{}
		}
	}
	return out
}

// WriteMetadata 写入元数据变更
func (c *Client) WriteMetadata(path string, changes map[string]string) bool {
	if len(changes) == 0 {
		return true
	}

	timeout := time.Duration(c.cfg.WriteTimeout) * time.Second

	args := []string{"-charset", "filename=utf8", "-overwrite_original"}
	args = append(args, mapFieldsToArgs(changes)...)
	args = append(args, path)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.exiftoolPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.recordFailure("write_metadata", path, c.errorHandler.WrapErrorWithOutput("exiftool写入", err, output))
		return false
	}

	c.recordSuccess()
	return true
}

// invoke 执行一次性exiftool调用并解析JSON输出
func (c *Client) invoke(args []string, timeout time.Duration) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.exiftoolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// exiftool对单个文件出错时仍可能输出有效JSON
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("exiftool invocation: %w (stderr: %s)", err, stderr.String())
		}
	}

	var objects []map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &objects); err != nil {
		return nil, fmt.Errorf("parse exiftool json: %w", err)
	}

	return objects, nil
}

// mergeEmbeddedSegments 将嵌入段合并到主结果的合成键下
func mergeEmbeddedSegments(dst map[string]interface{}, segments []map[string]interface{}) {
	for i, seg := range segments {
		for key, value := range seg {
			if key == "SourceFile" {
				continue
			}
			dst[fmt.Sprintf("[Segment %d] %s", i+1, key)] = value
		}
	}
}

// 内部字段名到exiftool标签的映射
var fieldMap = map[string]string{
	"title":       "XMP:Title",
	"description": "XMP:Description",
	"keywords":    "IPTC:Keywords",
	"artist":      "EXIF:Artist",
	"copyright":   "EXIF:Copyright",
	"rotation":    "Rotation",
	"rating":      "XMP:Rating",
}

// mapFieldsToArgs 将内部键值映射转换为-Tag=value参数
func mapFieldsToArgs(changes map[string]string) []string {
	args := make([]string, 0, len(changes))
	for key, value := range changes {
		tag := key
		if mapped, ok := fieldMap[key]; ok {
			tag = mapped
		}
		args = append(args, "-"+tag+"="+value)
	}
	return args
}

// recordFailure 记录一次失败并递增连续错误计数
func (c *Client) recordFailure(operation, path string, err error) {
	count := atomic.AddInt32(&c.consecutiveErrors, 1)
	c.logger.Warn("exiftool调用失败",
		zap.String("operation", operation),
		zap.String("file", path),
		zap.Int32("consecutive_errors", count),
		zap.Error(err))
}

// recordSuccess 成功调用后重置连续错误计数
func (c *Client) recordSuccess() {
	atomic.StoreInt32(&c.consecutiveErrors, 0)
}

// IsHealthy 健康检查，连续失败过多时返回false
func (c *Client) IsHealthy() bool {
	return atomic.LoadInt32(&c.consecutiveErrors) < unhealthyThreshold
}

// ConsecutiveErrors 返回当前连续错误计数
func (c *Client) ConsecutiveErrors() int {
	return int(atomic.LoadInt32(&c.consecutiveErrors))
}

// Close 关闭客户端
//
// 先尝试stay_open=False优雅握手，超时后终止再强杀，
// 每一步都有独立的小超时，避免阻塞调用方。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.stayOpen == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		if c.stayStdin != nil {
			io.WriteString(c.stayStdin, "-stay_open\nFalse\n")
			c.stayStdin.Close()
		}
		c.stayOpen.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Debug("exiftool保活进程已正常退出")
	case <-time.After(300 * time.Millisecond):
		// 握手超时，逐级升级
		if c.stayOpen.Process != nil {
			c.stayOpen.Process.Signal(terminateSignal)
			select {
			case <-done:
			case <-time.After(300 * time.Millisecond):
				c.stayOpen.Process.Kill()
				select {
				case <-done:
				case <-time.After(200 * time.Millisecond):
					c.logger.Warn("exiftool保活进程未能确认退出")
				}
			}
		}
	}

	c.stayOpen = nil
	c.stayStdin = nil
	return nil
}
