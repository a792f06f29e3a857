// Package sink serialises events from every adapter into one append-only log.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Hara602/installMonitor/internal/metrics"
	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// ErrClosed Close 之后调用 Emit
var ErrClosed = errors.New("sink closed")

const defaultQueueSize = 256

// Options 配置 sink
type Options struct {
	Path      string    // 日志文件，追加写入
	Console   io.Writer // 控制台镜像，nil 表示不输出
	Color     bool      // 为 true 且 Console 是终端时着色
	Styles    event.Styles
	QueueSize int
	Logger    *zap.Logger // 运行错误上报通道
	Metrics   *metrics.Metrics
}

// Sink 唯一的写入者：所有 Emit 通过一个通道交给单个 goroutine，
// 这个 goroutine 决定全局顺序并保证每行完整写出。
type Sink struct {
	mu     sync.RWMutex
	closed bool
	queue  chan event.Event
	done   chan struct{}

	file    io.WriteCloser
	console io.Writer
	color   bool
	styles  event.Styles
	log     *zap.Logger
	metrics *metrics.Metrics

	// 只由写 goroutine 访问
	failing bool
	missed  int
}

// Open 创建日志目录 (失败则启动失败) 并以追加方式打开日志文件
func Open(opts Options) (*Sink, error) {
	if opts.Path == "" {
		return nil, errors.New("log path is empty")
	}
	if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return New(f, opts), nil
}

// New 使用给定的 writer 构造 sink 并启动写 goroutine
func New(w io.WriteCloser, opts Options) *Sink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Styles == nil {
		opts.Styles = event.DefaultStyles()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Sink{
		queue:   make(chan event.Event, opts.QueueSize),
		done:    make(chan struct{}),
		file:    w,
		console: opts.Console,
		color:   opts.Color && isTerminal(opts.Console),
		styles:  opts.Styles,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	go s.run()
	return s
}

// Emit 将事件排入写队列。队列满时阻塞而不是丢弃。
func (s *Sink) Emit(e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.queue <- e
	return nil
}

// Close 停止接收新事件，写完队列中剩余的事件后关闭文件
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.file.Close()
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		s.write(e)
	}
	if s.failing {
		s.log.Error("event log still unwritable at shutdown", zap.Int("missed_lines", s.missed))
	}
}

func (s *Sink) write(e event.Event) {
	st := s.styles.Of(e.Kind)
	line := FormatLine(e, st.Marker)

	// 一次 Write 调用写出整行
	if _, err := io.WriteString(s.file, line+"\n"); err != nil {
		s.missed++
		s.metrics.IncLogWriteFailure()
		if !s.failing {
			s.failing = true
			s.log.Error("failed to append to event log", zap.Error(err), zap.String("line", line))
		}
	} else if s.failing {
		s.log.Warn("event log writable again", zap.Int("missed_lines", s.missed))
		s.failing = false
		s.missed = 0
	}

	if s.console != nil {
		// 以 sink 的终端判断为准，覆盖 color.NoColor
		c := color.New(st.Color)
		if s.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		c.Fprintln(s.console, line)
	}
	s.metrics.ObserveEmitted(e)
}

// FormatLine 生成日志行：YYYY-MM-DD HH:MM:SS | <marker> <summary>
func FormatLine(e event.Event, marker string) string {
	return fmt.Sprintf("%s | %s %s", e.ObservedAt.Local().Format(normalize.TimeLayout), marker, e.Summary())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
