package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oncut/config"
	"oncut/core/app"
	"oncut/core/state"
	"oncut/internal/logger"
)

// 全局变量
var (
	cfgFile string
	verbose bool

	versionStr = "dev"
	buildTime  = "unknown"
)

// SetVersionInfo 设置版本信息
func SetVersionInfo(v, bt string) {
	versionStr = v
	buildTime = bt
	rootCmd.Version = v
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oncut",
	Short: "oncut - 批量文件重命名工具",
	Long: `oncut 批量文件重命名工具

以模块链构造新文件名，支持元数据字段、哈希、计数器等来源，
并在执行前提供完整的预览与验证。

示例:
  oncut preview ./photos --module text:IMG_ --module counter:1:1:4
  oncut rename ./photos --module metadata:DateTimeOriginal --case lower
  oncut metadata ./photos/a.jpg --extended
  oncut thumb ./clips/a.mp4 -o a_thumb.jpg`,
	Version:       versionStr,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// 统一输出流到stderr，避免与应用程序输出混合造成排版混乱
	rootCmd.SetOut(os.Stderr)
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认 ./.oncut.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出详细日志")

	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(thumbCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// withApp 组装应用上下文、运行命令、执行分阶段关闭
//
// 信号处理：首个中断触发异步关闭，第二个切换紧急模式。
func withApp(run func(a *app.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log, err := logger.NewLogger(verbose)
		if err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		defer log.Sync()

		cfgMgr, err := config.NewConfigManager(cfgFile, log)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		a, err := app.New(log, cfgMgr)
		if err != nil {
			cfgMgr.Close()
			return fmt.Errorf("初始化失败: %w", err)
		}

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			pterm.Warning.Println("收到中断信号，正在关闭...")
			done := a.Shutdown.ExecuteShutdownAsync(0)
			go func() {
				<-sigCh
				pterm.Warning.Println("再次收到中断，切换紧急模式")
				a.Shutdown.SetEmergency()
			}()
			<-done
			os.Exit(130)
		}()

		runErr := run(a, cmd, args)

		signal.Stop(sigCh)
		if !a.Shutdown.ExecuteShutdown() {
			log.Warn("关闭未完全干净", zap.String("summary", a.Shutdown.Summary()))
		}

		return runErr
	}
}

// collectFiles 扫描目录下的常规文件并装入文件仓库
func collectFiles(a *app.Context, dir string) ([]*state.FileItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var files []*state.FileItem
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, state.NewFileItem(joinPath(dir, entry.Name())))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	a.FileStore.SetFiles(dir, files)
	return files, nil
}

func joinPath(dir, name string) string {
	return strings.TrimRight(dir, "/\\") + string(os.PathSeparator) + name
}

// versionCmd 输出版本与构建信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		pterm.Printf("oncut %s (built %s)\n", versionStr, buildTime)
	},
}
