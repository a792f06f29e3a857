package host

import (
	"context"
	"errors"
	"time"

	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"go.uber.org/zap"
)

// ErrRegistryUnsupported 当前平台没有注册表
var ErrRegistryUnsupported = errors.New("registry monitoring is only supported on windows")

// RegistrySource 读取一个注册表键的当前状态
type RegistrySource interface {
	// Read 返回子键名称 (subkeys 为 true 时) 和被跟踪值的快照。
	// 值不存在时为 normalize.UnknownValue，无权限读取时为 "unavailable (...)"。
	Read(subkeys bool, values []string) (normalize.RegistryBaseline, error)
}

// RegistryWatch 一个被轮询的键
type RegistryWatch struct {
	Key     string
	Subkeys bool     // 新子键上报为 SoftwareInstalled
	Values  []string // 值变化上报为 RegistryValueChanged
}

// RegistryMonitor 周期轮询注册表键，与上一个基线比较。
// 基线在每个周期被新快照整体替换；第一次轮询只建立基线。
type RegistryMonitor struct {
	source   RegistrySource
	watch    RegistryWatch
	interval time.Duration
	deps     Deps
	now      func() time.Time
}

func NewRegistryMonitor(source RegistrySource, watch RegistryWatch, interval time.Duration, deps Deps) *RegistryMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RegistryMonitor{source: source, watch: watch, interval: interval, deps: deps.withDefaults(), now: time.Now}
}

func (r *RegistryMonitor) Name() string { return "registry:" + r.watch.Key }

func (r *RegistryMonitor) Start(ctx context.Context) (<-chan event.Event, error) {
	eventChan := make(chan event.Event)

	go func() {
		defer close(eventChan)

		var baseline normalize.RegistryBaseline
		ok := initWithRetry(ctx, r.deps, r.Name(), eventChan, func() error {
			b, err := r.source.Read(r.watch.Subkeys, r.watch.Values)
			if err != nil {
				return err
			}
			baseline = b
			return nil
		})
		if !ok {
			return
		}
		r.deps.Log.Info("registry baseline taken", zap.String("key", r.watch.Key), zap.Int("subkeys", baseline.Len()))

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := r.source.Read(r.watch.Subkeys, r.watch.Values)
				if err != nil {
					// 跳过本周期，基线保持不变
					r.deps.Log.Warn("registry poll failed", zap.String("key", r.watch.Key), zap.Error(err))
					continue
				}
				for _, e := range normalize.DiffRegistry(r.watch.Key, baseline, next, r.now()) {
					if !send(ctx, eventChan, e) {
						return
					}
				}
				baseline = next
			}
		}
	}()
	return eventChan, nil
}
