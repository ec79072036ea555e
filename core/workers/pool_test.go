package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testPool(t *testing.T, size int) *Pool {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	p, err := NewPool(size, logger)
	if err != nil {
		t.Fatalf("创建任务池失败: %v", err)
	}
	return p
}

func TestSubmitAndDrain(t *testing.T) {
	// 非阻塞池：提交数不超过池容量，避免触发过载拒绝
	p := testPool(t, 8)

	var done int64
	for i := 0; i < 8; i++ {
		err := p.Submit("test", func(ctx context.Context) error {
			atomic.AddInt64(&done, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("提交失败: %v", err)
		}
	}

	if !p.Release(5 * time.Second) {
		t.Fatal("任务池应在限期内排空")
	}
	if atomic.LoadInt64(&done) != 8 {
		t.Fatalf("期望8个任务完成，实际 %d", done)
	}

	submitted, completed, failed := p.Stats()
	if submitted != 8 || completed != 8 || failed != 0 {
		t.Fatalf("统计不符: submitted=%d completed=%d failed=%d", submitted, completed, failed)
	}
}

func TestFailedTaskCounted(t *testing.T) {
	p := testPool(t, 2)

	p.Submit("fail", func(ctx context.Context) error {
		return errors.New("任务出错")
	})
	p.Submit("panic", func(ctx context.Context) error {
		panic("任务异常")
	})

	p.Release(5 * time.Second)

	_, _, failed := p.Stats()
	if failed != 2 {
		t.Fatalf("失败与panic都应计入失败数，实际 %d", failed)
	}
}

func TestSubmitAfterReleaseRejected(t *testing.T) {
	p := testPool(t, 2)
	p.Release(time.Second)

	err := p.Submit("late", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("关闭后的提交应被拒绝")
	}
}

func TestReleaseCancelsContext(t *testing.T) {
	p := testPool(t, 1)

	started := make(chan struct{})
	canceled := make(chan struct{})
	p.Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	<-started
	if !p.Release(5 * time.Second) {
		t.Fatal("响应取消的任务应让池按时排空")
	}

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("任务应收到取消信号")
	}
}
