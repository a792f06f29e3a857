package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hara602/installMonitor/internal/monitor"
	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/internal/sink"
	"github.com/Hara602/installMonitor/pkg/event"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Emitter 接收汇聚后的事件，通常是 *sink.Sink
type Emitter interface {
	Emit(e event.Event) error
}

type Engine struct {
	monitors []monitor.Monitor
	out      Emitter
	log      *zap.Logger
}

func NewEngine(out Emitter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		monitors: []monitor.Monitor{},
		out:      out,
		log:      log,
	}
}

func (e *Engine) AddMonitor(m monitor.Monitor) {
	e.monitors = append(e.monitors, m)
}

// Run 启动所有监控器并把它们的事件转发给 Emitter。
// ctx 取消后各监控器关闭通道，Run 在所有通道排空后返回。
// 调用方随后关闭 sink，保证已接收的事件全部落盘。
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("starting install monitor engine", zap.Int("monitors", len(e.monitors)))

	var g errgroup.Group

	// 启动所有添加的监控器
	for _, m := range e.monitors {
		ch, err := m.Start(ctx)
		if err != nil {
			// 一个数据源失败不影响其他数据源
			e.log.Error("failed to start monitor", zap.String("monitor", m.Name()), zap.Error(err))
			if emitErr := e.out.Emit(normalize.AdapterFailure(m.Name(), err, time.Now())); emitErr != nil {
				return fmt.Errorf("report %s failure: %w", m.Name(), emitErr)
			}
			continue
		}

		name := m.Name()
		// 每个监控器一个转发协程
		g.Go(func() error {
			return e.forward(name, ch)
		})
	}

	err := g.Wait()
	e.log.Info("install monitor engine stopped")
	return err
}

func (e *Engine) forward(name string, ch <-chan event.Event) error {
	for evt := range ch {
		if err := e.out.Emit(evt); err != nil {
			if errors.Is(err, sink.ErrClosed) {
				// sink 已关闭：继续排空通道，避免数据源阻塞
				for range ch {
				}
				return fmt.Errorf("%s: %w", name, err)
			}
			e.log.Warn("failed to emit event", zap.String("monitor", name), zap.Error(err))
		}
	}
	return nil
}
