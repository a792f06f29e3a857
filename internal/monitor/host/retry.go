package host

import (
	"context"
	"time"

	"github.com/Hara602/installMonitor/internal/metrics"
	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Deps 各数据源共用的依赖
type Deps struct {
	Log     *zap.Logger
	Metrics *metrics.Metrics

	// 初始化失败后的首次重试间隔，之后指数增长到 MaxRetryInterval
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RetryInterval <= 0 {
		d.RetryInterval = time.Second
	}
	if d.MaxRetryInterval <= 0 {
		d.MaxRetryInterval = time.Minute
	}
	return d
}

// initWithRetry 反复执行 op 直到成功或 ctx 取消。
// 第一次失败时向 out 发送一条 AdapterError，之后的失败只写运行日志。
// 返回 false 表示 ctx 已取消。
func initWithRetry(ctx context.Context, d Deps, name string, out chan<- event.Event, op func() error) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.RetryInterval
	b.MaxInterval = d.MaxRetryInterval
	b.MaxElapsedTime = 0

	reported := false
	notify := func(err error, wait time.Duration) {
		d.Metrics.IncAdapterRetry(name)
		if !reported {
			reported = true
			d.Log.Warn("adapter init failed, retrying", zap.String("adapter", name), zap.Error(err))
			send(ctx, out, normalize.AdapterFailure(name, err, time.Now()))
			return
		}
		d.Log.Debug("adapter init retry failed", zap.String("adapter", name), zap.Error(err), zap.Duration("next", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil || ctx.Err() != nil {
		return false
	}
	if reported {
		d.Log.Info("adapter recovered", zap.String("adapter", name))
	}
	return true
}

// send 投递事件，ctx 取消时放弃
func send(ctx context.Context, out chan<- event.Event, e event.Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
