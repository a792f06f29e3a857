package ledger

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"go.uber.org/zap"
)

// DefaultPeriod 对账扫描周期
const DefaultPeriod = 5 * time.Second

// Scanner 周期检查账本中的文件是否还存在，
// 为监控层漏掉的删除合成 FileDeleted 事件 (Origin = scan)。
// 它实现 monitor.Monitor，由引擎像其他数据源一样启动。
type Scanner struct {
	ledger *Ledger
	period time.Duration
	log    *zap.Logger
	kick   chan struct{}

	// 以下字段可在测试中替换
	stat func(string) (os.FileInfo, error)
	now  func() time.Time
}

func NewScanner(l *Ledger, period time.Duration, log *zap.Logger) *Scanner {
	if period <= 0 {
		period = DefaultPeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		ledger: l,
		period: period,
		log:    log,
		kick:   make(chan struct{}, 1),
		stat:   os.Lstat,
		now:    time.Now,
	}
}

func (s *Scanner) Name() string { return "reconciliation-scanner" }

// Kick 请求尽快执行一次扫描 (例如监控队列溢出后)，不阻塞
func (s *Scanner) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start 启动扫描循环，ctx 取消后在一个周期内退出并关闭通道
func (s *Scanner) Start(ctx context.Context) (<-chan event.Event, error) {
	eventChan := make(chan event.Event)

	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		defer close(eventChan)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.kick:
			}
			// 先确认还在运行再摘除条目，摘除后立即发送；
			// 取消时未检查的条目留在账本里，已摘除但没送出的写到运行日志
			s.sweep(ctx, func(e event.Event) bool {
				select {
				case eventChan <- e:
					return true
				case <-ctx.Done():
					s.log.Warn("scan deletion not delivered before shutdown",
						zap.String("path", e.Subject))
					return false
				}
			})
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return eventChan, nil
}

// Sweep 执行一次完整扫描，返回合成的删除事件
func (s *Scanner) Sweep() []event.Event {
	var out []event.Event
	s.sweep(context.Background(), func(e event.Event) bool {
		out = append(out, e)
		return true
	})
	return out
}

// sweep 逐个检查条目，每摘除一条就交给 emit；emit 返回 false 或 ctx 取消时停止
func (s *Scanner) sweep(ctx context.Context, emit func(event.Event) bool) int {
	now := s.now()
	n := 0
	for _, e := range s.ledger.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		_, err := s.stat(e.Path)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			// 权限等临时错误：跳过，下个周期再查
			s.log.Debug("scan stat failed", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		if !s.ledger.reap(e, now) {
			continue
		}
		n++
		if !emit(normalize.FileDeleted(e.Path, event.OriginScan, now)) {
			break
		}
	}
	s.ledger.expireTombstones(now.Add(-2 * s.period))
	if n > 0 {
		s.log.Info("scan detected missed deletions", zap.Int("count", n))
	}
	return n
}
