package shutdown

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"oncut/config"
)

// Phase 关闭阶段标识
type Phase string

// 关闭阶段，按依赖顺序排列：先停止产生新工作的部分，
// 再排空消费方，最后释放底层资源。
const (
	PhaseTimers     Phase = "TIMERS"
	PhaseWorkerPool Phase = "WORKER_POOL"
	PhaseThumbnails Phase = "THUMBNAILS"
	PhaseDatabase   Phase = "DATABASE"
	PhaseExiftool   Phase = "EXIFTOOL"
	PhaseFinalize   Phase = "FINALIZE"
)

// phaseOrder 阶段执行顺序
var phaseOrder = []Phase{
	PhaseTimers,
	PhaseWorkerPool,
	PhaseThumbnails,
	PhaseDatabase,
	PhaseExiftool,
	PhaseFinalize,
}

// Callback 阶段回调，返回是否干净完成
type Callback func() (bool, error)

// HealthCheck 阶段前的健康快照，返回描述文本
type HealthCheck func() string

// PhaseResult 单阶段的执行结果
type PhaseResult struct {
	Phase      Phase
	Registered bool
	Clean      bool
	TimedOut   bool
	Err        error
	Elapsed    time.Duration
	Health     string
}

// Coordinator 关闭协调器
//
// 各阶段独立执行：失败或超时只影响自身结果，
// 后续阶段照常运行。未注册回调的阶段视为干净完成。
type Coordinator struct {
	logger *zap.Logger
	cfg    config.ShutdownConfig

	mu           sync.Mutex
	callbacks    map[Phase]Callback
	healthChecks map[Phase]HealthCheck
	results      []PhaseResult
	emergency    bool
	started      bool
	nextPhase    int
}

// NewCoordinator 创建关闭协调器
func NewCoordinator(logger *zap.Logger, cfg config.ShutdownConfig) *Coordinator {
	return &Coordinator{
		logger:       logger.Named("shutdown"),
		cfg:          cfg,
		callbacks:    make(map[Phase]Callback),
		healthChecks: make(map[Phase]HealthCheck),
	}
}

// Register 为某阶段注册回调，重复注册覆盖旧值
func (c *Coordinator) Register(phase Phase, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[phase] = cb
}

// RegisterHealthCheck 为某阶段注册执行前的健康快照
func (c *Coordinator) RegisterHealthCheck(phase Phase, hc HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthChecks[phase] = hc
}

// SetEmergency 启用紧急模式
//
// 紧急模式下每阶段超时减半，用于二次中断信号。
func (c *Coordinator) SetEmergency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergency = true
}

// IsEmergency 返回是否处于紧急模式
func (c *Coordinator) IsEmergency() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergency
}

// phaseTimeout 取某阶段的超时，紧急模式减半
func (c *Coordinator) phaseTimeout(phase Phase) time.Duration {
	var seconds float64
	switch phase {
	case PhaseTimers:
		seconds = c.cfg.TimersTimeout
	case PhaseWorkerPool:
		seconds = c.cfg.WorkerPoolTimeout
	case PhaseThumbnails:
		seconds = c.cfg.ThumbnailsTimeout
	case PhaseDatabase:
		seconds = c.cfg.DatabaseTimeout
	case PhaseExiftool:
		seconds = c.cfg.ExiftoolTimeout
	case PhaseFinalize:
		seconds = c.cfg.FinalizeTimeout
	}
	if seconds <= 0 {
		seconds = 0.5
	}

	d := time.Duration(seconds * float64(time.Second))
	if c.emergency {
		d /= 2
	}
	return d
}

// ExecuteShutdown 同步执行全部阶段，返回整体是否干净
func (c *Coordinator) ExecuteShutdown() bool {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return c.overallLocked()
	}
	c.started = true
	c.mu.Unlock()

	for _, phase := range phaseOrder {
		c.runPhase(phase)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overallLocked()
}

// ExecuteShutdownAsync 启动逐阶段的异步关闭
//
// 每个tick推进一个阶段，全部完成后向done发送整体结果。
func (c *Coordinator) ExecuteShutdownAsync(tick time.Duration) <-chan bool {
	done := make(chan bool, 1)

	c.mu.Lock()
	if c.started {
		overall := c.overallLocked()
		c.mu.Unlock()
		done <- overall
		return done
	}
	c.started = true
	c.mu.Unlock()

	if tick <= 0 {
		tick = 50 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for range ticker.C {
			if !c.advance() {
				break
			}
		}

		c.mu.Lock()
		overall := c.overallLocked()
		c.mu.Unlock()
		done <- overall
	}()

	return done
}

// advance 推进一个阶段，还有剩余阶段时返回true
func (c *Coordinator) advance() bool {
	c.mu.Lock()
	if c.nextPhase >= len(phaseOrder) {
		c.mu.Unlock()
		return false
	}
	phase := phaseOrder[c.nextPhase]
	c.nextPhase++
	c.mu.Unlock()

	c.runPhase(phase)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextPhase < len(phaseOrder)
}

// runPhase 执行单个阶段，结果并入协调器
func (c *Coordinator) runPhase(phase Phase) {
	c.mu.Lock()
	cb, registered := c.callbacks[phase]
	hc := c.healthChecks[phase]
	timeout := c.phaseTimeout(phase)
	emergency := c.emergency
	c.mu.Unlock()

	result := PhaseResult{Phase: phase, Registered: registered}

	if !registered {
		// 缩略图是可选组件，未注册时整个阶段缺席于结果
		if phase == PhaseThumbnails {
			return
		}
		// 其余未注册阶段不占用时间，直接记为干净
		result.Clean = true
		c.appendResult(result)
		return
	}

	// 紧急模式跳过阶段前健康快照，尽快腾出时间给回调
	if hc != nil && !emergency {
		result.Health = snapshotHealth(hc)
	}

	start := time.Now()

	type outcome struct {
		clean bool
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{clean: false, err: fmt.Errorf("阶段panic: %v", r)}
			}
		}()
		clean, err := cb()
		ch <- outcome{clean: clean, err: err}
	}()

	select {
	case out := <-ch:
		result.Clean = out.clean && out.err == nil
		result.Err = out.err
	case <-time.After(timeout):
		result.TimedOut = true
		result.Err = fmt.Errorf("阶段超时 (%s)", timeout)
	}

	result.Elapsed = time.Since(start)

	if result.Clean {
		c.logger.Info("关闭阶段完成",
			zap.String("phase", string(phase)),
			zap.Duration("elapsed", result.Elapsed))
	} else {
		c.logger.Warn("关闭阶段未干净完成",
			zap.String("phase", string(phase)),
			zap.Bool("timed_out", result.TimedOut),
			zap.Error(result.Err))
	}

	c.appendResult(result)
}

// snapshotHealth 执行健康快照，panic时降级为标记文本
func snapshotHealth(hc HealthCheck) (snapshot string) {
	defer func() {
		if r := recover(); r != nil {
			snapshot = "health check panic"
		}
	}()
	return hc()
}

func (c *Coordinator) appendResult(r PhaseResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

// expectedResultsLocked 预期的结果条数，缺席的可选阶段不计
func (c *Coordinator) expectedResultsLocked() int {
	n := len(phaseOrder)
	if _, ok := c.callbacks[PhaseThumbnails]; !ok {
		n--
	}
	return n
}

// overallLocked 整体结果为所有阶段结果的合取
func (c *Coordinator) overallLocked() bool {
	if len(c.results) < c.expectedResultsLocked() {
		return false
	}
	for _, r := range c.results {
		if !r.Clean {
			return false
		}
	}
	return true
}

// Results 返回已完成阶段的结果副本
func (c *Coordinator) Results() []PhaseResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PhaseResult, len(c.results))
	copy(out, c.results)
	return out
}

// Summary 生成人类可读的关闭摘要
func (c *Coordinator) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.WriteString("关闭摘要:\n")

	for _, r := range c.results {
		status := "OK"
		switch {
		case r.TimedOut:
			status = "超时"
		case !r.Clean:
			status = "失败"
		case !r.Registered:
			status = "未注册"
		}
		builder.WriteString(fmt.Sprintf("  %-12s %-6s %s", r.Phase, status, r.Elapsed))
		if r.Health != "" {
			builder.WriteString("  [" + r.Health + "]")
		}
		builder.WriteString("\n")
	}

	if c.overallLocked() {
		builder.WriteString("整体: 干净退出\n")
	} else {
		builder.WriteString("整体: 存在未完成项\n")
	}

	return builder.String()
}
