package errs

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 文件操作错误
	ErrorTypeFileOperation ErrorType = "FILE_OPERATION"
	// 重命名错误
	ErrorTypeRename ErrorType = "RENAME"
	// 工具执行错误
	ErrorTypeToolExecution ErrorType = "TOOL_EXECUTION"
	// 配置错误
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
	// 缩略图生成错误
	ErrorTypeThumbnail ErrorType = "THUMBNAIL"
	// 用户输入错误
	ErrorTypeUserInput ErrorType = "USER_INPUT"
	// 未知错误
	ErrorTypeUnknown ErrorType = "UNKNOWN"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// OncutError 增强的错误结构
type OncutError struct {
	Type       ErrorType     `json:"type"`
	Severity   ErrorSeverity `json:"severity"`
	Message    string        `json:"message"`
	Operation  string        `json:"operation"`
	FilePath   string        `json:"file_path,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`
	Cause      error         `json:"-"`
	Retryable  bool          `json:"retryable"`
}

// Error 实现error接口
func (oe *OncutError) Error() string {
	var builder strings.Builder
	builder.WriteString("[")
	builder.WriteString(string(oe.Type))
	builder.WriteString(":")
	builder.WriteString(string(oe.Severity))
	builder.WriteString("] ")
	builder.WriteString(oe.Message)
	builder.WriteString(" (operation: ")
	builder.WriteString(oe.Operation)
	if oe.FilePath != "" {
		builder.WriteString(", file: ")
		builder.WriteString(oe.FilePath)
	}
	builder.WriteString(")")
	return builder.String()
}

// Unwrap 支持错误链
func (oe *OncutError) Unwrap() error {
	return oe.Cause
}

// Handler 统一的错误处理器
type Handler struct {
	logger *zap.Logger
}

// NewHandler 创建新的错误处理器
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// New 创建新的类型化错误
func (h *Handler) New(errorType ErrorType, severity ErrorSeverity, operation, message string, cause error) *OncutError {
	return h.NewFileError(errorType, severity, operation, message, "", cause)
}

// NewFileError 创建携带文件路径的类型化错误
func (h *Handler) NewFileError(errorType ErrorType, severity ErrorSeverity, operation, message, filePath string, cause error) *OncutError {
	oe := &OncutError{
		Type:      errorType,
		Severity:  severity,
		Message:   message,
		Operation: operation,
		FilePath:  filePath,
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: isRetryable(errorType, cause),
	}

	// 只在Critical级别错误时添加堆栈跟踪，减少日志污染
	if severity == SeverityCritical {
		oe.StackTrace = getStackTrace()
	}

	h.logError(oe)
	return oe
}

// WrapError 统一的错误包装函数
func (h *Handler) WrapError(operation string, err error, details ...interface{}) error {
	if err == nil && len(details) == 0 {
		return fmt.Errorf("%s failed", operation)
	}
	if err == nil {
		var builder strings.Builder
		for i, detail := range details {
			if i > 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(fmt.Sprint(detail))
		}
		return fmt.Errorf("%s failed: %s", operation, builder.String())
	}

	var detailStr string
	if len(details) > 0 {
		var builder strings.Builder
		builder.WriteString(", details: ")
		for i, detail := range details {
			if i > 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(fmt.Sprint(detail))
		}
		detailStr = builder.String()
	}

	return fmt.Errorf("%s failed: %w%s", operation, err, detailStr)
}

// WrapErrorWithOutput 包装错误并附带工具输出
func (h *Handler) WrapErrorWithOutput(operation string, err error, output []byte) error {
	out := strings.TrimSpace(string(output))
	if len(out) > 512 {
		out = out[:512]
	}
	if err == nil {
		return fmt.Errorf("%s failed: %s", operation, out)
	}
	return fmt.Errorf("%s failed: %w (output: %s)", operation, err, out)
}

// isRetryable 判断错误是否可重试
func isRetryable(errorType ErrorType, cause error) bool {
	if cause == nil {
		return false
	}

	switch errorType {
	case ErrorTypeFileOperation, ErrorTypeRename:
		// 文件操作错误通常可重试
		return !os.IsNotExist(cause) && !os.IsPermission(cause)
	case ErrorTypeToolExecution:
		// 工具执行错误可能可重试
		return true
	default:
		return false
	}
}

// logError 记录错误日志
func (h *Handler) logError(oe *OncutError) {
	if h.logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_type", string(oe.Type)),
		zap.String("operation", oe.Operation),
	}

	if oe.FilePath != "" {
		fields = append(fields, zap.String("file_path", oe.FilePath))
	}
	if oe.Cause != nil {
		fields = append(fields, zap.String("cause", oe.Cause.Error()))
	}

	// 根据严重程度选择日志级别，提高阈值减少输出
	switch oe.Severity {
	case SeverityLow:
		// Low级别错误不记录日志，避免污染
		return
	case SeverityMedium:
		h.logger.Debug(oe.Message, fields...)
	case SeverityHigh:
		h.logger.Warn(oe.Message, fields...)
	case SeverityCritical:
		if oe.StackTrace != "" {
			fields = append(fields, zap.String("stack_trace", oe.StackTrace))
		}
		h.logger.Error(oe.Message, fields...)
	}
}

// getStackTrace 获取堆栈跟踪
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
