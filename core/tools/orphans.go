package tools

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// KillOrphans 扫描进程表并终止孤儿外部工具进程
//
// 防御应用崩溃后残留的保活进程。整个扫描受ctx限时，
// 先尝试Terminate，短暂等待后升级为Kill。返回处理的进程数。
func KillOrphans(ctx context.Context, logger *zap.Logger, names ...string) int {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		logger.Debug("进程表扫描失败", zap.Error(err))
		return 0
	}

	killed := 0
	for _, p := range procs {
		select {
		case <-ctx.Done():
			return killed
		default:
		}

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}

		if !matchesTool(name, names) {
			continue
		}

		logger.Info("终止孤儿进程",
			zap.String("name", name),
			zap.Int32("pid", p.Pid))

		if err := p.TerminateWithContext(ctx); err != nil {
			p.KillWithContext(ctx)
			killed++
			continue
		}

		// 给进程短暂的退出时间，不等待则升级
		deadline := time.After(200 * time.Millisecond)
	wait:
		for {
			select {
			case <-deadline:
				p.KillWithContext(ctx)
				break wait
			case <-time.After(50 * time.Millisecond):
				if running, _ := p.IsRunningWithContext(ctx); !running {
					break wait
				}
			case <-ctx.Done():
				break wait
			}
		}
		killed++
	}

	return killed
}

// matchesTool 判断进程名是否属于目标工具
func matchesTool(procName string, names []string) bool {
	lower := strings.ToLower(procName)
	lower = strings.TrimSuffix(lower, ".exe")
	for _, n := range names {
		if lower == strings.ToLower(n) {
			return true
		}
	}
	return false
}
