package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// 每种事件写出的日志行固定在 testdata/golden/event_log.golden
func TestEventLogGolden(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 20, 30, 0, time.Local)
	mod := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)

	var events []event.Event
	events = append(events,
		normalize.ProcessStarted("setup.exe", 4242, `C:\Temp\setup.exe`, nil, now),
		normalize.ProcessStarted("", 77, "", os.ErrPermission, now),
	)
	events = append(events, normalize.DiffRegistry(`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`,
		normalize.NewRegistryBaseline([]string{"AppA", "AppB"}, nil),
		normalize.NewRegistryBaseline([]string{"AppA", "AppB", "AppC"}, nil),
		now)...)
	events = append(events, normalize.DiffRegistry(`SOFTWARE\Microsoft\Windows NT\CurrentVersion`,
		normalize.NewRegistryBaseline(nil, map[string]string{"RegisteredOwner": "alice"}),
		normalize.NewRegistryBaseline(nil, map[string]string{"RegisteredOwner": "bob"}),
		now)...)
	events = append(events,
		normalize.FileCreated("/data/a.txt", &normalize.FileMeta{Size: 100, ModTime: mod}, now),
		normalize.FileModified("/data/a.txt", &normalize.FileMeta{Size: 2048, ModTime: mod, ContentType: "pdf"}, now),
		normalize.FileRenamed("/data/a.txt", "/data/b.txt", nil, now),
		normalize.FileRenamed("/data/b.txt", "", nil, now),
		normalize.FileDeleted("/data/c.txt", event.OriginWatch, now),
		normalize.FileDeleted("/data/d.txt", event.OriginScan, now),
		normalize.FileCreated("/data/e.txt", nil, now),
		normalize.AdapterFailure("fs:/data", errors.New("watch root unavailable"), now),
	)

	path := filepath.Join(t.TempDir(), "install_log.txt")
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, s.Emit(e))
	}
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "event_log", got)
}
