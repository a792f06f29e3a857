package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/installMonitor/internal/filter"
	"github.com/Hara602/installMonitor/internal/ledger"
	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/fsnotify/fsnotify"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

// renameWindow 等待 Rename(old) 之后配对的 Create(new) 的时间。
// 同一次改名的两条通知由 OS 连续送达，超出这个时间的 Create 属于别的操作。
const renameWindow = 100 * time.Millisecond

// FSMonitor 监控一个根目录，每个监控根目录一个实例
type FSMonitor struct {
	watchRoot string
	filter    *filter.PathFilter
	ledger    *ledger.Ledger
	deps      Deps

	sniffType  bool
	onOverflow func()
	now        func() time.Time
}

// FSOption 可选配置
type FSOption func(*FSMonitor)

// WithContentType 新建文件时根据文件头识别类型
func WithContentType(enabled bool) FSOption {
	return func(f *FSMonitor) { f.sniffType = enabled }
}

// WithOverflowHandler 监控队列溢出时调用 (通常是触发一次对账扫描)
func WithOverflowHandler(fn func()) FSOption {
	return func(f *FSMonitor) { f.onOverflow = fn }
}

func NewFSMonitor(rootPath string, pf *filter.PathFilter, l *ledger.Ledger, deps Deps, opts ...FSOption) *FSMonitor {
	f := &FSMonitor{
		watchRoot:  filepath.Clean(rootPath),
		filter:     pf,
		ledger:     l,
		deps:       deps.withDefaults(),
		onOverflow: func() {},
		now:        time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FSMonitor) Name() string { return "fs:" + f.watchRoot }

// Start 返回事件通道。根目录不存在或无法监控时报告一次错误并按退避重试。
func (f *FSMonitor) Start(ctx context.Context) (<-chan event.Event, error) {
	eventChan := make(chan event.Event)

	go func() {
		defer close(eventChan)
		for {
			var watcher *fsnotify.Watcher
			ok := initWithRetry(ctx, f.deps, f.Name(), eventChan, func() error {
				w, err := f.open()
				if err != nil {
					return err
				}
				watcher = w
				return nil
			})
			if !ok {
				if watcher != nil {
					watcher.Close()
				}
				return
			}

			// 1. 初始扫描：添加根目录及其当前所有子目录
			f.addRecursive(watcher, f.watchRoot, nil)

			rearm := f.loop(ctx, watcher, eventChan)
			watcher.Close()
			if !rearm {
				return
			}
		}
	}()

	return eventChan, nil
}

func (f *FSMonitor) open() (*fsnotify.Watcher, error) {
	fi, err := os.Stat(f.watchRoot)
	if err != nil {
		return nil, fmt.Errorf("watch root unavailable: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", f.watchRoot)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(f.watchRoot); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", f.watchRoot, err)
	}
	return w, nil
}

// addRecursive 递归添加目录及其子目录到监控列表。
// announce 非空时，把目录中已经存在的文件作为新建文件上报
// (新目录在加入监控前就写入的文件不会产生通知)。
func (f *FSMonitor) addRecursive(w *fsnotify.Watcher, path string, announce func(string)) {
	err := filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			f.deps.Log.Debug("walk failed", zap.String("path", walkPath), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.filter.IsInScope(walkPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if walkPath == f.watchRoot {
				return nil
			}
			if err := w.Add(walkPath); err != nil {
				f.deps.Log.Warn("failed to watch directory", zap.String("path", walkPath), zap.Error(err))
			}
			return nil
		}
		if announce != nil {
			announce(walkPath)
		}
		return nil
	})
	if err != nil {
		f.deps.Log.Warn("error walking path", zap.String("path", path), zap.Error(err))
	}
}

// loop 处理 fsnotify 事件直到 ctx 取消。返回 true 表示根目录消失，需要重新建立监控。
func (f *FSMonitor) loop(ctx context.Context, w *fsnotify.Watcher, out chan<- event.Event) bool {
	// 等待配对的 Rename 旧路径及其到达时间
	pending := ""
	var pendingAt time.Time
	// 刚改名的目录：inotify 随后会为它自身的监控再送一条 Rename，
	// 路径可能是旧名，也可能已被更新为新名 (此时该监控已被 fsnotify 移除)
	var movedDir, echo [2]string
	timer := time.NewTimer(renameWindow)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	emit := func(e event.Event) { send(ctx, out, e) }

	flushRename := func() {
		if pending == "" {
			return
		}
		old := pending
		pending = ""
		timer.Stop()
		// 旧路径可能是目录，其下条目随之离开监控范围
		f.ledger.RemoveTree(old)
		if f.filter.IsInScope(old) {
			emit(normalize.FileRenamed(old, "", nil, f.now()))
		}
	}

	for {
		var fsEvent fsnotify.Event
		var ok bool

		select {
		case <-ctx.Done():
			return false

		case <-timer.C:
			flushRename()
			continue

		case err, open := <-w.Errors:
			if !open {
				return false
			}
			f.handleError(err, emit)
			continue

		case fsEvent, ok = <-w.Events:
			if !ok {
				return false
			}
		}

		// 忽略一些噪音事件 (Chmod)
		if fsEvent.Op == fsnotify.Chmod {
			continue
		}

		echo, movedDir = movedDir, [2]string{}

		// 只有紧跟在 Rename 之后、且在窗口内到达的 Create 才是它的新名字；
		// 其他任何事件都先把挂起的 Rename 当作移出处理
		if pending != "" {
			if fsEvent.Has(fsnotify.Create) && time.Since(pendingAt) <= renameWindow {
				old := pending
				pending = ""
				timer.Stop()
				if f.handleRename(w, old, fsEvent.Name, emit) {
					movedDir = [2]string{old, fsEvent.Name}
				}
				continue
			}
			flushRename()
		}

		switch {
		case fsEvent.Has(fsnotify.Create):
			f.handleCreate(w, fsEvent.Name, emit)
		case fsEvent.Has(fsnotify.Write):
			f.handleWrite(fsEvent.Name, emit)
		case fsEvent.Has(fsnotify.Remove):
			if fsEvent.Name == f.watchRoot {
				f.deps.Log.Warn("watch root removed, re-arming", zap.String("root", f.watchRoot))
				return true
			}
			f.handleRemove(fsEvent.Name, emit)
		case fsEvent.Has(fsnotify.Rename):
			if fsEvent.Name == f.watchRoot {
				f.deps.Log.Warn("watch root renamed, re-arming", zap.String("root", f.watchRoot))
				return true
			}
			if fsEvent.Name == echo[0] {
				continue
			}
			if fsEvent.Name == echo[1] {
				if fi, err := os.Stat(echo[1]); err == nil && fi.IsDir() {
					f.addRecursive(w, echo[1], nil)
					continue
				}
			}
			pending = fsEvent.Name
			pendingAt = time.Now()
			timer.Reset(renameWindow)
		}
	}
}

func (f *FSMonitor) handleError(err error, emit func(event.Event)) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		// 通知已丢失，依赖对账扫描补齐删除
		f.deps.Log.Warn("watch queue overflowed", zap.String("root", f.watchRoot))
		emit(normalize.AdapterFailure(f.Name(), errors.New("event queue overflowed, reconciling by scan"), f.now()))
		f.onOverflow()
		return
	}
	f.deps.Log.Warn("fs monitor error", zap.String("root", f.watchRoot), zap.Error(err))
}

func (f *FSMonitor) handleCreate(w *fsnotify.Watcher, path string, emit func(event.Event)) {
	if !f.filter.IsInScope(path) {
		return
	}
	meta, isDir, err := f.stat(path, f.sniffType)
	if err != nil {
		f.deps.Log.Debug("stat failed", zap.String("path", path), zap.Error(err))
		emit(normalize.FileCreated(path, nil, f.now()))
		return
	}
	if isDir {
		// 新目录 (安装目录、挂载点)：加入监控，并上报其中已有的文件
		emit(normalize.DirectoryCreated(path, meta.ModTime, f.now()))
		f.addRecursive(w, path, func(p string) { f.trackCreated(p, emit) })
		return
	}
	f.recordCreated(path, meta, emit)
}

func (f *FSMonitor) trackCreated(path string, emit func(event.Event)) {
	meta, isDir, err := f.stat(path, f.sniffType)
	if err != nil || isDir {
		return
	}
	f.recordCreated(path, meta, emit)
}

// recordCreated 文件已在账本中且未见删除时，这条 Create 是重复通知
// (例如新目录扫描时已上报过)：元数据相同则忽略，不同则视为修改。
func (f *FSMonitor) recordCreated(path string, meta *normalize.FileMeta, emit func(event.Event)) {
	if prev, ok := f.ledger.Get(path); ok {
		if prev.SizeBytes == meta.Size && prev.LastModified.Equal(meta.ModTime) {
			return
		}
		f.ledger.Upsert(path, meta.Size, meta.ModTime)
		emit(normalize.FileModified(path, meta, f.now()))
		return
	}
	f.ledger.Upsert(path, meta.Size, meta.ModTime)
	emit(normalize.FileCreated(path, meta, f.now()))
}

func (f *FSMonitor) handleWrite(path string, emit func(event.Event)) {
	if !f.filter.IsInScope(path) {
		return
	}
	meta, isDir, err := f.stat(path, false)
	if err != nil {
		f.deps.Log.Debug("stat failed", zap.String("path", path), zap.Error(err))
		emit(normalize.FileModified(path, nil, f.now()))
		return
	}
	if isDir {
		return
	}
	f.ledger.Upsert(path, meta.Size, meta.ModTime)
	emit(normalize.FileModified(path, meta, f.now()))
}

func (f *FSMonitor) handleRemove(path string, emit func(event.Event)) {
	if !f.filter.IsInScope(path) {
		return
	}
	if f.ledger.ClaimWatchDeletion(path) {
		emit(normalize.FileDeleted(path, event.OriginWatch, f.now()))
	}
}

// handleRename 处理配对成功的改名，返回新路径是否为目录
func (f *FSMonitor) handleRename(w *fsnotify.Watcher, oldPath, newPath string, emit func(event.Event)) bool {
	oldIn, newIn := f.filter.IsInScope(oldPath), f.filter.IsInScope(newPath)
	if !newIn {
		f.ledger.RemoveTree(oldPath)
		if oldIn {
			emit(normalize.FileRenamed(oldPath, "", nil, f.now()))
		}
		return false
	}
	meta, isDir, err := f.stat(newPath, false)
	switch {
	case err != nil:
		meta = nil
		f.ledger.RemoveTree(oldPath)
	case isDir:
		// 目录改名：已跟踪的文件改挂到新路径下，否则扫描会把它们当成删除
		moved := f.ledger.Move(oldPath, newPath)
		f.deps.Log.Debug("directory renamed", zap.String("from", oldPath), zap.String("to", newPath), zap.Int("entries", moved))
		f.addRecursive(w, newPath, nil)
	default:
		f.ledger.Remove(oldPath)
		f.ledger.Upsert(newPath, meta.Size, meta.ModTime)
	}
	emit(normalize.FileRenamed(oldPath, newPath, meta, f.now()))
	return err == nil && isDir
}

// stat 读取元数据；sniff 为 true 时读取文件头识别类型
func (f *FSMonitor) stat(path string, sniff bool) (*normalize.FileMeta, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	meta := &normalize.FileMeta{Size: uint64(fi.Size()), ModTime: fi.ModTime()}
	if fi.IsDir() {
		return meta, true, nil
	}
	if sniff && fi.Size() > 0 {
		if kind, err := filetype.MatchFile(path); err == nil && kind != filetype.Unknown {
			meta.ContentType = kind.Extension
		}
	}
	return meta, false, nil
}
