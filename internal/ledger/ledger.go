// Package ledger tracks files seen by the watchers and reconciles them
// against the filesystem so that missed delete notifications still surface.
package ledger

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry 已知文件最后一次观察到的元数据
type Entry struct {
	Path         string // 原始大小写的路径
	SizeBytes    uint64
	LastModified time.Time

	gen uint64
}

// Ledger 以绝对路径为键，只在不区分大小写的文件系统上折叠大小写 (见 keyOf)。
// 监控回调并发写入，扫描器并发遍历和删除；同一个键的删除只有先到者成功。
type Ledger struct {
	mu         sync.Mutex
	entries    map[string]Entry
	tombstones map[string]time.Time // 扫描器删除过的键，用来吞掉迟到的删除通知
	nextGen    uint64
}

func New() *Ledger {
	return &Ledger{
		entries:    make(map[string]Entry),
		tombstones: make(map[string]time.Time),
	}
}

// Upsert 新建或更新条目
func (l *Ledger) Upsert(path string, size uint64, modTime time.Time) {
	key := keyOf(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextGen++
	l.entries[key] = Entry{Path: path, SizeBytes: size, LastModified: modTime, gen: l.nextGen}
	delete(l.tombstones, key)
}

// Get 查询条目
func (l *Ledger) Get(path string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[keyOf(path)]
	return e, ok
}

// Len 当前条目数
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Remove 无条件删除条目，返回删除前是否存在 (重命名时使用)
func (l *Ledger) Remove(path string) bool {
	key := keyOf(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[key]
	delete(l.entries, key)
	return ok
}

// Move 目录改名后把旧路径及其下的条目改挂到新路径，返回移动的条目数。
// 移动后的条目是新的一代，旧键不留墓碑。
func (l *Ledger) Move(oldPrefix, newPrefix string) int {
	oldAbs, newAbs := absClean(oldPrefix), absClean(newPrefix)
	l.mu.Lock()
	defer l.mu.Unlock()
	var moved []Entry
	for key, e := range l.entries {
		rest, ok := relUnder(absClean(e.Path), oldAbs)
		if !ok {
			continue
		}
		delete(l.entries, key)
		l.nextGen++
		e.Path = newAbs + rest
		e.gen = l.nextGen
		moved = append(moved, e)
	}
	for _, e := range moved {
		key := keyOf(e.Path)
		l.entries[key] = e
		delete(l.tombstones, key)
	}
	return len(moved)
}

// RemoveTree 删除路径本身及其下的所有条目 (目录移出监控范围时使用)，返回删除数
func (l *Ledger) RemoveTree(prefix string) int {
	prefixAbs := absClean(prefix)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, e := range l.entries {
		if _, ok := relUnder(absClean(e.Path), prefixAbs); ok {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// ClaimWatchDeletion 处理监控层送来的删除通知，返回是否应该上报。
// 条目存在：删除并上报。
// 条目已被扫描器删除 (有墓碑)：消耗墓碑，不重复上报。
// 从未跟踪过 (程序启动前就存在的文件)：照常上报。
func (l *Ledger) ClaimWatchDeletion(path string) bool {
	key := keyOf(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; ok {
		delete(l.entries, key)
		return true
	}
	if _, ok := l.tombstones[key]; ok {
		delete(l.tombstones, key)
		return false
	}
	return true
}

// Snapshot 返回条目副本，按路径排序，供扫描器在锁外检查
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// reap 只在条目仍是扫描器看到的那一代时删除，
// 避免把检查之后重新创建的文件当成已删除
func (l *Ledger) reap(e Entry, now time.Time) bool {
	key := keyOf(e.Path)
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.entries[key]
	if !ok || cur.gen != e.gen {
		return false
	}
	delete(l.entries, key)
	l.tombstones[key] = now
	return true
}

// expireTombstones 清理早于 cutoff 的墓碑，保证内存有界
func (l *Ledger) expireTombstones(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.tombstones {
		if at.Before(cutoff) {
			delete(l.tombstones, k)
		}
	}
}

func (l *Ledger) tombstoneCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tombstones)
}

func absClean(path string) string {
	p := strings.TrimSpace(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

// relUnder 返回 path 位于 prefix 之下的剩余部分 (以分隔符开头，保留原始大小写)。
// path 等于 prefix 时返回空串。
func relUnder(path, prefix string) (string, bool) {
	if keyOf(path) == keyOf(prefix) {
		return "", true
	}
	if len(path) <= len(prefix) || path[len(prefix)] != os.PathSeparator {
		return "", false
	}
	if keyOf(path[:len(prefix)]) != keyOf(prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
