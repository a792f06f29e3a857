package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hara602/installMonitor/internal/filter"
	"github.com/Hara602/installMonitor/internal/ledger"
	"github.com/Hara602/installMonitor/internal/monitor/host"
	"github.com/Hara602/installMonitor/internal/sink"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (r *recorder) Emit(e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// staticMonitor 发送固定事件后等待 ctx 取消再关闭通道
type staticMonitor struct {
	name   string
	events []event.Event
	err    error
}

func (s *staticMonitor) Name() string { return s.name }

func (s *staticMonitor) Start(ctx context.Context) (<-chan event.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan event.Event)
	go func() {
		defer close(ch)
		for _, e := range s.events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func fileEvent(kind event.Kind, path string) event.Event {
	return event.Event{Kind: kind, Subject: path, ObservedAt: time.Now()}
}

func runEngine(t *testing.T, e *Engine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
	return nil
}

func TestEngineFansInAllMonitors(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, nil)
	e.AddMonitor(&staticMonitor{name: "a", events: []event.Event{
		fileEvent(event.FileCreated, "/data/1"),
		fileEvent(event.FileModified, "/data/1"),
	}})
	e.AddMonitor(&staticMonitor{name: "b", events: []event.Event{
		fileEvent(event.ProcessStarted, "setup.exe"),
	}})

	cancel, done := runEngine(t, e)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))

	// 单个数据源内部顺序保持不变
	var fromA []event.Kind
	for _, ev := range rec.snapshot() {
		if ev.Subject == "/data/1" {
			fromA = append(fromA, ev.Kind)
		}
	}
	assert.Equal(t, []event.Kind{event.FileCreated, event.FileModified}, fromA)
}

func TestEngineStartFailureIsIsolated(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, nil)
	e.AddMonitor(&staticMonitor{name: "registry", err: errors.New("access denied")})
	e.AddMonitor(&staticMonitor{name: "fs", events: []event.Event{fileEvent(event.FileCreated, "/data/x")}})

	cancel, done := runEngine(t, e)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, done))

	var errs int
	for _, ev := range rec.snapshot() {
		if ev.Kind == event.AdapterError {
			errs++
			assert.Equal(t, "registry", ev.Subject)
			assert.Equal(t, "access denied", ev.Detail)
		}
	}
	assert.Equal(t, 1, errs)
}

func TestEngineSinkClosed(t *testing.T) {
	rec := &recorder{err: sink.ErrClosed}
	e := NewEngine(rec, nil)
	e.AddMonitor(&staticMonitor{name: "fs", events: []event.Event{fileEvent(event.FileCreated, "/data/x")}})

	cancel, done := runEngine(t, e)
	defer cancel()
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, waitRun(t, done), sink.ErrClosed)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func countContaining(lines []string, parts ...string) int {
	n := 0
	for _, l := range lines {
		ok := true
		for _, p := range parts {
			if !strings.Contains(l, p) {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return n
}

// 完整流水线：监控根目录、忽略子目录、新建、删除，每个变更恰好一行
func TestPipelineCreateAndDeleteLoggedOnce(t *testing.T) {
	root := t.TempDir()
	tmp := filepath.Join(root, "tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))
	logPath := filepath.Join(t.TempDir(), "logs", "install_log.txt")

	out, err := sink.Open(sink.Options{Path: logPath})
	require.NoError(t, err)

	pf := filter.New([]string{root}, []string{tmp}, logPath)
	l := ledger.New()
	scanner := ledger.NewScanner(l, 20*time.Millisecond, nil)
	deps := host.Deps{RetryInterval: 5 * time.Millisecond}

	e := NewEngine(out, nil)
	e.AddMonitor(host.NewFSMonitor(root, pf, l, deps, host.WithOverflowHandler(scanner.Kick)))
	e.AddMonitor(scanner)

	cancel, done := runEngine(t, e)
	time.Sleep(100 * time.Millisecond)

	report := filepath.Join(root, "report.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "scratch"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(report, make([]byte, 2048), 0o644))
	require.Eventually(t, func() bool { _, ok := l.Get(report); return ok }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(report))
	require.Eventually(t, func() bool { return l.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	// 给扫描器足够多的周期，确认不会重复上报
	time.Sleep(150 * time.Millisecond)

	cancel()
	runErr := waitRun(t, done)
	require.NoError(t, multierr.Append(runErr, out.Close()))

	lines := readLines(t, logPath)
	assert.Equal(t, 1, countContaining(lines, "New file created: "+report))
	assert.Equal(t, 1, countContaining(lines, "File deleted: "+report))
	assert.Equal(t, 0, countContaining(lines, "scratch"))
	for _, line := range lines {
		assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \| `, line)
	}
}

// 丢失的删除通知由扫描器补上，并标注来源
func TestPipelineLostDeletionDetectedByScan(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(file, make([]byte, 2048), 0o644))
	logPath := filepath.Join(dir, "install_log.txt")

	out, err := sink.Open(sink.Options{Path: logPath})
	require.NoError(t, err)

	l := ledger.New()
	fi, err := os.Stat(file)
	require.NoError(t, err)
	l.Upsert(file, uint64(fi.Size()), fi.ModTime())

	// 没有文件监控，删除只能被扫描发现
	scanner := ledger.NewScanner(l, 20*time.Millisecond, nil)
	e := NewEngine(out, nil)
	e.AddMonitor(scanner)
	cancel, done := runEngine(t, e)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return l.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, done))
	require.NoError(t, out.Close())

	lines := readLines(t, logPath)
	assert.Equal(t, 1, countContaining(lines, "File deleted: "+file, "detected by scan"))
}
