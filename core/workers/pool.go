package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool 后台任务池
//
// 元数据预读与缩略图生成等后台工作经由此池提交，
// 关停时由协调器在限定时间内排空。
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submittedTasks int64
	completedTasks int64
	failedTasks    int64
}

// NewPool 创建后台任务池
func NewPool(maxWorkers int, logger *zap.Logger) (*Pool, error) {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool, err := ants.NewPool(maxWorkers, ants.WithOptions(ants.Options{
		ExpiryDuration:   time.Minute * 10,
		PreAlloc:         true,
		MaxBlockingTasks: maxWorkers * 2,
		Nonblocking:      true,
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("创建任务池失败: %w", err)
	}

	return &Pool{
		pool:   pool,
		logger: logger.Named("workers"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Submit 提交一个后台任务
//
// 任务收到的context在池关停时被取消，长任务应及时响应。
func (p *Pool) Submit(name string, task func(ctx context.Context) error) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("任务池已关闭")
	default:
	}

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.failedTasks, 1)
				p.logger.Error("后台任务panic",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()

		if err := task(p.ctx); err != nil {
			atomic.AddInt64(&p.failedTasks, 1)
			p.logger.Warn("后台任务失败",
				zap.String("task", name),
				zap.Error(err))
			return
		}
		atomic.AddInt64(&p.completedTasks, 1)
	})
	if err != nil {
		p.wg.Done()
		return fmt.Errorf("提交任务失败: %w", err)
	}

	atomic.AddInt64(&p.submittedTasks, 1)
	return nil
}

// Stats 返回提交/完成/失败计数
func (p *Pool) Stats() (submitted, completed, failed int64) {
	return atomic.LoadInt64(&p.submittedTasks),
		atomic.LoadInt64(&p.completedTasks),
		atomic.LoadInt64(&p.failedTasks)
}

// Running 返回正在执行的任务数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release 取消未完成任务并在限定时间内等待排空
//
// 超时返回false，此时池仍被释放但有任务未及退出。
func (p *Pool) Release(timeout time.Duration) bool {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drained := true
	select {
	case <-done:
	case <-time.After(timeout):
		drained = false
		p.logger.Warn("任务池排空超时",
			zap.Duration("timeout", timeout),
			zap.Int("running", p.pool.Running()))
	}

	p.pool.Release()
	return drained
}
