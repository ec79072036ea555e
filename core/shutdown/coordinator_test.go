package shutdown

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"oncut/config"
)

func testConfig() config.ShutdownConfig {
	return config.ShutdownConfig{
		TimersTimeout:     0.5,
		WorkerPoolTimeout: 2,
		ThumbnailsTimeout: 2,
		DatabaseTimeout:   1,
		ExiftoolTimeout:   0.5,
		FinalizeTimeout:   0.5,
	}
}

func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	return NewCoordinator(logger, testConfig())
}

func TestUnregisteredPhasesAreClean(t *testing.T) {
	c := testCoordinator(t)

	ran := false
	c.Register(PhaseWorkerPool, func() (bool, error) {
		ran = true
		return true, nil
	})

	if !c.ExecuteShutdown() {
		t.Fatal("只注册一个干净回调时整体应为干净")
	}
	if !ran {
		t.Fatal("已注册回调应被执行")
	}

	// 可选的缩略图阶段未注册时缺席，结果恰为5个阶段：
	// 1个已注册 + 4个未注册的免费成功
	results := c.Results()
	if len(results) != 5 {
		t.Fatalf("期望5个阶段结果，实际 %d: %+v", len(results), results)
	}
	unregistered := 0
	for _, r := range results {
		if r.Phase == PhaseThumbnails {
			t.Fatal("未注册的缩略图阶段不应出现在结果中")
		}
		if !r.Clean {
			t.Fatalf("阶段 %s 应为干净: %+v", r.Phase, r)
		}
		if !r.Registered {
			if r.Err != nil {
				t.Fatalf("未注册阶段不应有错误: %+v", r)
			}
			unregistered++
		}
	}
	if unregistered != 4 {
		t.Fatalf("期望4个未注册阶段，实际 %d", unregistered)
	}
}

func TestFailureDoesNotBlockLaterPhases(t *testing.T) {
	c := testCoordinator(t)

	c.Register(PhaseTimers, func() (bool, error) {
		return false, errors.New("定时器停止失败")
	})

	finalized := false
	c.Register(PhaseFinalize, func() (bool, error) {
		finalized = true
		return true, nil
	})

	if c.ExecuteShutdown() {
		t.Fatal("存在失败阶段时整体不应为干净")
	}
	if !finalized {
		t.Fatal("前序阶段失败不应阻止后续阶段运行")
	}
}

func TestPhaseTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimersTimeout = 0.05
	logger, _ := zap.NewDevelopment()
	c := NewCoordinator(logger, cfg)

	release := make(chan struct{})
	defer close(release)
	c.Register(PhaseTimers, func() (bool, error) {
		<-release
		return true, nil
	})

	start := time.Now()
	overall := c.ExecuteShutdown()
	elapsed := time.Since(start)

	if overall {
		t.Fatal("超时阶段应让整体结果为不干净")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("超时控制失效，耗时 %s", elapsed)
	}

	results := c.Results()
	if !results[0].TimedOut {
		t.Fatalf("首个阶段应标记超时: %+v", results[0])
	}
}

func TestEmergencyHalvesTimeouts(t *testing.T) {
	c := testCoordinator(t)

	normal := c.phaseTimeout(PhaseWorkerPool)
	c.SetEmergency()
	halved := c.phaseTimeout(PhaseWorkerPool)

	if halved != normal/2 {
		t.Fatalf("紧急模式应减半超时: %s -> %s", normal, halved)
	}
	if !c.IsEmergency() {
		t.Fatal("紧急标志应已置位")
	}
}

func TestPanicInCallbackIsContained(t *testing.T) {
	c := testCoordinator(t)

	c.Register(PhaseDatabase, func() (bool, error) {
		panic("数据库关闭异常")
	})

	done := false
	c.Register(PhaseFinalize, func() (bool, error) {
		done = true
		return true, nil
	})

	if c.ExecuteShutdown() {
		t.Fatal("panic阶段应计为不干净")
	}
	if !done {
		t.Fatal("panic不应阻止后续阶段")
	}
}

func TestExecuteShutdownAsync(t *testing.T) {
	c := testCoordinator(t)

	order := make([]Phase, 0, 2)
	c.Register(PhaseTimers, func() (bool, error) {
		order = append(order, PhaseTimers)
		return true, nil
	})
	c.Register(PhaseExiftool, func() (bool, error) {
		order = append(order, PhaseExiftool)
		return true, nil
	})

	select {
	case overall := <-c.ExecuteShutdownAsync(time.Millisecond):
		if !overall {
			t.Fatal("全部阶段干净时异步结果应为true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("异步关闭超时")
	}

	if len(order) != 2 || order[0] != PhaseTimers || order[1] != PhaseExiftool {
		t.Fatalf("阶段顺序不符: %v", order)
	}
}

func TestSecondShutdownIsIdempotent(t *testing.T) {
	c := testCoordinator(t)

	calls := 0
	c.Register(PhaseTimers, func() (bool, error) {
		calls++
		return true, nil
	})

	c.ExecuteShutdown()
	c.ExecuteShutdown()

	if calls != 1 {
		t.Fatalf("回调应只执行一次，实际 %d", calls)
	}
}

func TestHealthSnapshotRecorded(t *testing.T) {
	c := testCoordinator(t)

	c.Register(PhaseExiftool, func() (bool, error) { return true, nil })
	c.RegisterHealthCheck(PhaseExiftool, func() string { return "healthy" })

	c.ExecuteShutdown()

	for _, r := range c.Results() {
		if r.Phase == PhaseExiftool {
			if r.Health != "healthy" {
				t.Fatalf("已注册健康快照应被记录: %+v", r)
			}
			if !strings.Contains(c.Summary(), "healthy") {
				t.Fatal("摘要应包含健康快照")
			}
			return
		}
	}
	t.Fatal("未找到EXIFTOOL阶段结果")
}

func TestEmergencySkipsHealthCheck(t *testing.T) {
	c := testCoordinator(t)

	probed := false
	c.Register(PhaseExiftool, func() (bool, error) { return true, nil })
	c.RegisterHealthCheck(PhaseExiftool, func() string {
		probed = true
		return "healthy"
	})
	c.SetEmergency()

	c.ExecuteShutdown()

	if probed {
		t.Fatal("紧急模式不应执行健康快照")
	}
}

func TestHealthCheckPanicContained(t *testing.T) {
	c := testCoordinator(t)

	c.Register(PhaseDatabase, func() (bool, error) { return true, nil })
	c.RegisterHealthCheck(PhaseDatabase, func() string { panic("boom") })

	if !c.ExecuteShutdown() {
		t.Fatal("健康快照panic不应影响整体结果")
	}
	for _, r := range c.Results() {
		if r.Phase == PhaseDatabase && !r.Clean {
			t.Fatalf("阶段本身应为干净: %+v", r)
		}
	}
}

func TestSummaryMentionsEveryPhase(t *testing.T) {
	c := testCoordinator(t)
	c.Register(PhaseThumbnails, func() (bool, error) { return true, nil })
	c.ExecuteShutdown()

	summary := c.Summary()
	for _, phase := range phaseOrder {
		if !strings.Contains(summary, string(phase)) {
			t.Fatalf("摘要应包含阶段 %s:\n%s", phase, summary)
		}
	}
}

func TestSummaryOmitsAbsentThumbnailsPhase(t *testing.T) {
	c := testCoordinator(t)
	c.ExecuteShutdown()

	if strings.Contains(c.Summary(), string(PhaseThumbnails)) {
		t.Fatal("未注册缩略图组件时摘要不应包含该阶段")
	}
}
