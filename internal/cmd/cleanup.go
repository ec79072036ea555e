package cmd

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"oncut/core/app"
	"oncut/core/tools"
)

// cleanupCmd 清理本工具遗留的外部进程
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理残留的exiftool/ffmpeg进程",
	Long: `查找并终止残留的exiftool、ffmpeg与ffprobe进程。

异常退出后stay_open的exiftool进程可能滞留，此命令先尝试
温和终止，短暂等待后强制结束。`,
	RunE: withApp(runCleanup),
}

func runCleanup(a *app.Context, cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	killed := tools.KillOrphans(ctx, a.Logger, "exiftool", "ffmpeg", "ffprobe")
	if killed == 0 {
		pterm.Info.Println("没有发现残留进程")
	} else {
		pterm.Success.Printf("已清理 %d 个残留进程\n", killed)
	}
	return nil
}
