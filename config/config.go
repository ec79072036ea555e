package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config 应用配置结构
type Config struct {
	// 重命名设置
	Rename RenameConfig `mapstructure:"rename"`

	// 外部工具路径
	Tools ToolsConfig `mapstructure:"tools"`

	// 元数据提取设置
	Metadata MetadataConfig `mapstructure:"metadata"`

	// 缩略图设置
	Thumbnails ThumbnailConfig `mapstructure:"thumbnails"`

	// 并发设置
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`

	// 关闭流程设置
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	// 缓存设置
	Cache CacheConfig `mapstructure:"cache"`

	// 日志设置
	Logging LoggingConfig `mapstructure:"logging"`

	// 高级设置
	Advanced AdvancedConfig `mapstructure:"advanced"`
}

// RenameConfig 重命名引擎配置
type RenameConfig struct {
	// 是否启用伴随文件功能（同名sidecar文件）
	CompanionFilesEnabled bool `mapstructure:"companion_files_enabled"`

	// 是否随主文件自动重命名伴随文件
	CompanionAutoRename bool `mapstructure:"companion_auto_rename"`

	// 预览结果有效期 (秒)
	PreviewTTL int `mapstructure:"preview_ttl"`

	// 预览/验证缓存有效期 (毫秒)
	CacheTTLMillis int `mapstructure:"cache_ttl_millis"`

	// 执行阶段是否重新验证每个名字
	RevalidateOnExecute bool `mapstructure:"revalidate_on_execute"`
}

// ToolsConfig 外部工具配置
type ToolsConfig struct {
	// 内置工具目录（bin/<platform>/ 布局）
	BinDir string `mapstructure:"bin_dir"`

	// 各工具的显式路径，留空则自动查找
	ExiftoolPath string `mapstructure:"exiftool_path"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	FFprobePath  string `mapstructure:"ffprobe_path"`
}

// MetadataConfig 元数据提取配置
type MetadataConfig struct {
	// 单文件读取超时 (秒)
	ReadTimeout int `mapstructure:"read_timeout"`

	// 批量读取基础超时 (秒)
	BatchBaseTimeout int `mapstructure:"batch_base_timeout"`

	// 批量读取每文件追加超时 (毫秒)
	BatchPerFileMillis int `mapstructure:"batch_per_file_millis"`

	// 写入超时 (秒)
	WriteTimeout int `mapstructure:"write_timeout"`
}

// ThumbnailConfig 缩略图配置
type ThumbnailConfig struct {
	// 默认最大边长 (像素)
	MaxDimension int `mapstructure:"max_dimension"`

	// 视频帧提取超时 (秒)
	FrameTimeout int `mapstructure:"frame_timeout"`
}

// ConcurrencyConfig 并发配置
type ConcurrencyConfig struct {
	// 工作池大小，0表示按CPU数量
	MaxWorkers int `mapstructure:"max_workers"`
}

// ShutdownConfig 关闭流程配置，按阶段设置超时 (秒)
type ShutdownConfig struct {
	TimersTimeout     float64 `mapstructure:"timers_timeout"`
	WorkerPoolTimeout float64 `mapstructure:"worker_pool_timeout"`
	ThumbnailsTimeout float64 `mapstructure:"thumbnails_timeout"`
	DatabaseTimeout   float64 `mapstructure:"database_timeout"`
	ExiftoolTimeout   float64 `mapstructure:"exiftool_timeout"`
	FinalizeTimeout   float64 `mapstructure:"finalize_timeout"`
}

// CacheConfig 可用性缓存配置
type CacheConfig struct {
	// bbolt数据库路径，留空使用默认位置
	Path string `mapstructure:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 日志级别 (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// 是否启用文件日志
	EnableFile bool `mapstructure:"enable_file"`

	// 是否启用控制台日志
	EnableConsole bool `mapstructure:"enable_console"`

	// 日志目录
	LogDir string `mapstructure:"log_dir"`
}

// AdvancedConfig 高级配置
type AdvancedConfig struct {
	// 是否启用配置热重载
	EnableHotReload bool `mapstructure:"enable_hot_reload"`
}

// ValidationError 配置验证错误
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("配置验证失败 [")
	builder.WriteString(e.Field)
	builder.WriteString("]: ")
	builder.WriteString(e.Message)
	builder.WriteString(" (当前值: ")
	builder.WriteString(fmt.Sprint(e.Value))
	builder.WriteString(")")
	return builder.String()
}

// ConfigWatcher 配置变更监听器
type ConfigWatcher interface {
	OnConfigChange(oldConfig, newConfig *Config) error
}

// ConfigManager 配置管理器
type ConfigManager struct {
	viper      *viper.Viper
	logger     *zap.Logger
	config     *Config
	configFile string
	watchers   []ConfigWatcher
	mutex      sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewConfigManager 创建配置管理器
func NewConfigManager(configFile string, logger *zap.Logger) (*ConfigManager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cm := &ConfigManager{
		viper:      viper.New(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		configFile: configFile,
	}

	if err := cm.loadConfig(); err != nil {
		cancel()
		return nil, err
	}

	return cm, nil
}

// loadConfig 加载配置
func (cm *ConfigManager) loadConfig() error {
	setDefaults(cm.viper)

	if cm.configFile != "" {
		cm.viper.SetConfigFile(cm.configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		cm.viper.AddConfigPath(home)
		cm.viper.AddConfigPath(".")
		cm.viper.SetConfigName(".oncut")
		cm.viper.SetConfigType("yaml")
	}

	cm.viper.SetEnvPrefix("ONCUT")
	cm.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.viper.AutomaticEnv()

	if err := cm.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// 配置文件不存在，使用默认配置
	}

	var config Config
	if err := cm.viper.Unmarshal(&config); err != nil {
		return err
	}

	if err := validateConfig(&config); err != nil {
		return err
	}

	cm.mutex.Lock()
	cm.config = &config
	cm.mutex.Unlock()

	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("rename.companion_files_enabled", true)
	v.SetDefault("rename.companion_auto_rename", false)
	v.SetDefault("rename.preview_ttl", 300)
	v.SetDefault("rename.cache_ttl_millis", 100)
	v.SetDefault("rename.revalidate_on_execute", false)

	v.SetDefault("tools.bin_dir", "bin")
	v.SetDefault("tools.exiftool_path", "")
	v.SetDefault("tools.ffmpeg_path", "")
	v.SetDefault("tools.ffprobe_path", "")

	v.SetDefault("metadata.read_timeout", 10)
	v.SetDefault("metadata.batch_base_timeout", 10)
	v.SetDefault("metadata.batch_per_file_millis", 500)
	v.SetDefault("metadata.write_timeout", 30)

	v.SetDefault("thumbnails.max_dimension", 256)
	v.SetDefault("thumbnails.frame_timeout", 15)

	v.SetDefault("concurrency.max_workers", 0)

	v.SetDefault("shutdown.timers_timeout", 0.5)
	v.SetDefault("shutdown.worker_pool_timeout", 2.0)
	v.SetDefault("shutdown.thumbnails_timeout", 2.0)
	v.SetDefault("shutdown.database_timeout", 1.0)
	v.SetDefault("shutdown.exiftool_timeout", 0.5)
	v.SetDefault("shutdown.finalize_timeout", 0.5)

	v.SetDefault("cache.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_file", true)
	v.SetDefault("logging.enable_console", true)
	v.SetDefault("logging.log_dir", "./output/logs")

	v.SetDefault("advanced.enable_hot_reload", false)
}

// validateConfig 验证配置合法性
func validateConfig(c *Config) error {
	if c.Rename.PreviewTTL <= 0 {
		return &ValidationError{Field: "rename.preview_ttl", Message: "必须为正数", Value: c.Rename.PreviewTTL}
	}
	if c.Rename.CacheTTLMillis <= 0 {
		return &ValidationError{Field: "rename.cache_ttl_millis", Message: "必须为正数", Value: c.Rename.CacheTTLMillis}
	}
	if c.Metadata.ReadTimeout <= 0 {
		return &ValidationError{Field: "metadata.read_timeout", Message: "必须为正数", Value: c.Metadata.ReadTimeout}
	}
	if c.Metadata.BatchPerFileMillis < 0 {
		return &ValidationError{Field: "metadata.batch_per_file_millis", Message: "不能为负数", Value: c.Metadata.BatchPerFileMillis}
	}
	if c.Thumbnails.MaxDimension <= 0 {
		return &ValidationError{Field: "thumbnails.max_dimension", Message: "必须为正数", Value: c.Thumbnails.MaxDimension}
	}
	if c.Concurrency.MaxWorkers < 0 {
		return &ValidationError{Field: "concurrency.max_workers", Message: "不能为负数", Value: c.Concurrency.MaxWorkers}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "无效的日志级别", Value: c.Logging.Level}
	}

	return nil
}

// GetConfig 获取当前配置
func (cm *ConfigManager) GetConfig() *Config {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.config
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(key string, value interface{}) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	oldConfig := *cm.config

	cm.viper.Set(key, value)

	var newConfig Config
	if err := cm.viper.Unmarshal(&newConfig); err != nil {
		return err
	}

	if err := validateConfig(&newConfig); err != nil {
		return err
	}

	cm.config = &newConfig

	for _, watcher := range cm.watchers {
		if err := watcher.OnConfigChange(&oldConfig, &newConfig); err != nil {
			cm.logger.Error("配置变更通知失败", zap.Error(err))
		}
	}

	return nil
}

// AddWatcher 添加配置监听器
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// EnableHotReload 启用配置热重载
func (cm *ConfigManager) EnableHotReload() error {
	if !cm.config.Advanced.EnableHotReload {
		return nil
	}

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := cm.loadConfig(); err != nil {
			cm.logger.Error("重新加载配置失败", zap.Error(err))
			return
		}
		cm.logger.Info("配置已重新加载", zap.String("file", e.Name))
	})

	cm.viper.WatchConfig()
	return nil
}

// Close 关闭配置管理器
func (cm *ConfigManager) Close() error {
	cm.cancel()
	return nil
}

// BatchTimeout 计算批量元数据读取的动态超时
func (c *MetadataConfig) BatchTimeout(fileCount int) time.Duration {
	base := time.Duration(c.BatchBaseTimeout) * time.Second
	perFile := time.Duration(c.BatchPerFileMillis) * time.Millisecond
	return base + time.Duration(fileCount)*perFile
}
