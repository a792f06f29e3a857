package sink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hara602/installMonitor/internal/metrics"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \| \S+ .+$`)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestOpenCreatesLogDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "install_log.txt")
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Emit(event.Event{Kind: event.FileCreated, Subject: "/data/a.txt", ObservedAt: time.Now()}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Regexp(t, linePattern, lines[0])
	assert.Contains(t, lines[0], "📂 New file created: /data/a.txt")
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("earlier line\n"), 0o644))

	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Emit(event.Event{Kind: event.ProcessStarted, Subject: "x", ObservedAt: time.Now()}))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "earlier line", lines[0])
}

func TestFormatLine(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local)
	e := event.Event{Kind: event.FileDeleted, Subject: "/data/a.txt", ObservedAt: ts, Origin: event.OriginScan}
	assert.Equal(t, "2026-05-06 07:08:09 | 🗑️ File deleted: /data/a.txt | detected by scan", FormatLine(e, "🗑️"))
}

func TestConcurrentEmitProducesWholeLines(t *testing.T) {
	const adapters = 8
	const perAdapter = 250

	path := filepath.Join(t.TempDir(), "log.txt")
	var console bytes.Buffer
	s, err := Open(Options{Path: path, Console: &console, QueueSize: 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for a := 0; a < adapters; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			for i := 0; i < perAdapter; i++ {
				e := event.Event{
					Kind:       event.FileModified,
					Subject:    fmt.Sprintf("/data/adapter-%d/file-%d", a, i),
					Detail:     strings.Repeat("x", 200),
					ObservedAt: time.Now(),
				}
				assert.NoError(t, s.Emit(e))
			}
		}(a)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, adapters*perAdapter)
	seen := map[string]bool{}
	for _, l := range lines {
		assert.Regexp(t, linePattern, l)
		seen[l[strings.Index(l, "/data/"):strings.Index(l, " | x")]] = true
	}
	assert.Len(t, seen, adapters*perAdapter)
	assert.Equal(t, adapters*perAdapter, strings.Count(console.String(), "\n"))
}

func TestEmitAfterClose(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "log.txt")})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Emit(event.Event{}), ErrClosed)
	assert.NoError(t, s.Close())
}

type flakyWriter struct {
	mu    sync.Mutex
	fail  bool
	lines []string
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("disk full")
	}
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func (w *flakyWriter) Close() error { return nil }

func (w *flakyWriter) setFail(v bool) {
	w.mu.Lock()
	w.fail = v
	w.mu.Unlock()
}

func TestWriteFailureIsReportedOnceAndDoesNotBlock(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := &flakyWriter{fail: true}
	var console bytes.Buffer
	s := New(w, Options{Console: &console, Logger: zap.New(core), Metrics: m})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Emit(event.Event{Kind: event.FileCreated, Subject: fmt.Sprint(i), ObservedAt: time.Now()}))
	}
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.LogWriteFailures) == 5 }, time.Second, 5*time.Millisecond)

	w.setFail(false)
	require.NoError(t, s.Emit(event.Event{Kind: event.FileCreated, Subject: "ok", ObservedAt: time.Now()}))
	require.NoError(t, s.Close())

	assert.Equal(t, 1, logs.FilterMessage("failed to append to event log").Len())
	recovered := logs.FilterMessage("event log writable again").All()
	require.Len(t, recovered, 1)
	assert.Equal(t, int64(5), recovered[0].ContextMap()["missed_lines"])

	assert.Len(t, w.lines, 1)
	assert.Equal(t, 6, strings.Count(console.String(), "\n"), "console mirror keeps every event")
	assert.Equal(t, 6.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("FILE_CREATED", "watch")))
}

func TestConsoleWithoutTerminalIsUncoloured(t *testing.T) {
	var console bytes.Buffer
	s := New(&flakyWriter{}, Options{Console: &console, Color: true})
	require.NoError(t, s.Emit(event.Event{Kind: event.AdapterError, Subject: "fs", Detail: "boom", ObservedAt: time.Now()}))
	require.NoError(t, s.Close())

	assert.NotContains(t, console.String(), "\x1b[")
	assert.Contains(t, console.String(), "❌ Error: fs | boom")
}

func TestColouredConsoleUsesKindColour(t *testing.T) {
	var console bytes.Buffer
	s := New(&flakyWriter{}, Options{Console: &console, Color: true})
	s.color = true // bytes.Buffer 不是终端
	require.NoError(t, s.Emit(event.Event{Kind: event.ProcessStarted, Subject: "setup.exe", ObservedAt: time.Now()}))
	require.NoError(t, s.Close())

	out := console.String()
	assert.True(t, strings.HasPrefix(out, "\x1b[36m"), "got %q", out)
	assert.Contains(t, out, "🔵 Process started: setup.exe")
	assert.True(t, strings.HasSuffix(out, "\x1b[0m\n"), "got %q", out)
}
