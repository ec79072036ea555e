package exiftool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"oncut/core/tools"
)

// ForceCleanupAllExiftoolProcesses 清理所有孤儿exiftool进程
//
// 供关闭流程和崩溃恢复调用，扫描时间有上界。
func ForceCleanupAllExiftoolProcesses(logger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return tools.KillOrphans(ctx, logger, "exiftool")
}
