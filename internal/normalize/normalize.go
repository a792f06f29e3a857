// Package normalize maps raw adapter notifications onto event.Event values.
// Every function here is pure: the caller supplies the observation time.
package normalize

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/dustin/go-humanize"
)

// TimeLayout 日志和详情中使用的本地时间格式
const TimeLayout = "2006-01-02 15:04:05"

// FileMeta 文件元数据快照
type FileMeta struct {
	Size        uint64
	ModTime     time.Time
	ContentType string // 文件头识别出的扩展名，未识别时为空
}

func (m *FileMeta) detail() string {
	if m == nil {
		return "(file details unavailable)"
	}
	s := fmt.Sprintf("Size: %s | Last Modified: %s", humanize.Bytes(m.Size), m.ModTime.Local().Format(TimeLayout))
	if m.ContentType != "" {
		s += " | Type: " + m.ContentType
	}
	return s
}

// FileCreated 新建文件；meta 为 nil 表示元数据读取失败
func FileCreated(path string, meta *FileMeta, now time.Time) event.Event {
	return event.Event{Kind: event.FileCreated, Subject: path, Detail: meta.detail(), ObservedAt: now}
}

// DirectoryCreated 新建目录；目录不进入账本
func DirectoryCreated(path string, modTime time.Time, now time.Time) event.Event {
	return event.Event{
		Kind:       event.FileCreated,
		Subject:    path,
		Detail:     "Directory | Last Modified: " + modTime.Local().Format(TimeLayout),
		ObservedAt: now,
	}
}

// FileModified 文件被修改
func FileModified(path string, meta *FileMeta, now time.Time) event.Event {
	return event.Event{Kind: event.FileModified, Subject: path, Detail: meta.detail(), ObservedAt: now}
}

// FileDeleted 文件被删除，origin 区分是通知送达还是扫描发现
func FileDeleted(path string, origin event.Origin, now time.Time) event.Event {
	return event.Event{Kind: event.FileDeleted, Subject: path, ObservedAt: now, Origin: origin}
}

// FileRenamed 重命名；newPath 为空表示文件被移出了监控范围
func FileRenamed(oldPath, newPath string, meta *FileMeta, now time.Time) event.Event {
	detail := "New Name: (outside watched tree)"
	if newPath != "" {
		detail = "New Name: " + newPath
		if meta != nil {
			detail += " | " + meta.detail()
		}
	}
	return event.Event{Kind: event.FileRenamed, Subject: oldPath, Detail: detail, ObservedAt: now}
}

// 进程路径不可用时的固定说法，不带底层错误文本
const (
	pathAccessDenied  = "path unavailable (access denied)"
	pathProcessExited = "path unavailable (process exited)"
)

// ProcessStarted 进程启动事件。路径解析失败时仍然产生事件，路径标记为不可用。
func ProcessStarted(name string, pid int32, exe string, exeErr error, now time.Time) event.Event {
	if name == "" {
		if exe != "" {
			name = filepath.Base(exe)
		} else {
			name = fmt.Sprintf("pid %d", pid)
		}
	}
	path := exe
	switch {
	case errors.Is(exeErr, fs.ErrPermission):
		path = pathAccessDenied
	case exeErr != nil:
		path = pathProcessExited
	case exe == "":
		path = "path unavailable"
	}
	return event.Event{
		Kind:       event.ProcessStarted,
		Subject:    name,
		Detail:     fmt.Sprintf("PID: %d | Path: %s", pid, path),
		ObservedAt: now,
		Origin:     event.OriginWatch,
	}
}

// AdapterFailure 数据源错误
func AdapterFailure(adapter string, err error, now time.Time) event.Event {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return event.Event{Kind: event.AdapterError, Subject: adapter, Detail: detail, ObservedAt: now}
}
