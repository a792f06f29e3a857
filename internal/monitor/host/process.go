package host

import (
	"context"
	"sort"
	"time"

	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

// ProcessTable 进程表的抽象，便于测试
type ProcessTable interface {
	Pids(ctx context.Context) ([]int32, error)
	// Describe 在启动通知时解析进程名和可执行文件路径
	Describe(ctx context.Context, pid int32) (name, exe string, exeErr error)
}

type gopsutilTable struct{}

// SystemProcessTable 基于 gopsutil 的进程表
func SystemProcessTable() ProcessTable { return gopsutilTable{} }

func (gopsutilTable) Pids(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (gopsutilTable) Describe(ctx context.Context, pid int32) (string, string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// 进程已经退出
		return "", "", err
	}
	name, _ := p.NameWithContext(ctx)
	exe, err := p.ExeWithContext(ctx)
	return name, exe, err
}

// ProcessMonitor 周期对比进程表，新出现的 PID 即为新启动的进程。
// 第一次获取的进程表作为基线，不上报。
type ProcessMonitor struct {
	table    ProcessTable
	interval time.Duration
	deps     Deps
	now      func() time.Time
}

func NewProcessMonitor(table ProcessTable, interval time.Duration, deps Deps) *ProcessMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProcessMonitor{table: table, interval: interval, deps: deps.withDefaults(), now: time.Now}
}

func (p *ProcessMonitor) Name() string { return "process" }

func (p *ProcessMonitor) Start(ctx context.Context) (<-chan event.Event, error) {
	eventChan := make(chan event.Event)

	go func() {
		defer close(eventChan)

		// 获取当前进程列表作为基线
		var current map[int32]bool
		ok := initWithRetry(ctx, p.deps, p.Name(), eventChan, func() error {
			pids, err := p.table.Pids(ctx)
			if err != nil {
				return err
			}
			current = pidSet(pids)
			return nil
		})
		if !ok {
			return
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pids, err := p.table.Pids(ctx)
				if err != nil {
					p.deps.Log.Warn("process list failed", zap.Error(err))
					continue
				}
				next := pidSet(pids)

				// 检查新增进程
				var started []int32
				for pid := range next {
					if !current[pid] {
						started = append(started, pid)
					}
				}
				sort.Slice(started, func(i, j int) bool { return started[i] < started[j] })

				for _, pid := range started {
					name, exe, exeErr := p.table.Describe(ctx, pid)
					if !send(ctx, eventChan, normalize.ProcessStarted(name, pid, exe, exeErr, p.now())) {
						return
					}
				}

				// 更新状态
				current = next
			}
		}
	}()
	return eventChan, nil
}

func pidSet(pids []int32) map[int32]bool {
	m := make(map[int32]bool, len(pids))
	for _, pid := range pids {
		m[pid] = true
	}
	return m
}
