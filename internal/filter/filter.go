// Package filter decides which filesystem paths produce events.
package filter

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// PathFilter 过滤规则：在监控根目录下 且 不在忽略目录下 且 不是日志文件本身。
// 构造后只读，可被多个回调并发调用。
type PathFilter struct {
	monitored []string
	ignored   []string
	logPath   string
}

// New 规范化并保存路径集合；空白条目被丢弃
func New(monitored, ignored []string, logPath string) *PathFilter {
	f := &PathFilter{
		monitored: normalizeAll(monitored),
		ignored:   normalizeAll(ignored),
	}
	if strings.TrimSpace(logPath) != "" {
		f.logPath = Normalize(logPath)
	}
	return f
}

// IsInScope 判断路径是否需要上报
func (f *PathFilter) IsInScope(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	p := Normalize(path)
	if f.logPath != "" && p == f.logPath {
		return false
	}
	for _, ig := range f.ignored {
		if hasPathPrefix(p, ig) {
			return false
		}
	}
	for _, root := range f.monitored {
		if hasPathPrefix(p, root) {
			return true
		}
	}
	return false
}

// WatchRoots 返回需要单独建立监控的根目录，保持原始大小写。
// 重复的根和被其他根包含的根会被去掉，避免同一变更上报两次。
func WatchRoots(monitored []string) []string {
	var out []string
	seen := map[string]bool{}
	for i, p := range monitored {
		n := Normalize(p)
		if strings.TrimSpace(p) == "" || seen[n] {
			continue
		}
		nested := false
		for j, other := range monitored {
			o := Normalize(other)
			if i != j && strings.TrimSpace(other) != "" && n != o && hasPathPrefix(n, o) {
				nested = true
				break
			}
		}
		if nested {
			continue
		}
		seen[n] = true
		out = append(out, filepath.Clean(strings.TrimSpace(p)))
	}
	return out
}

// Normalize 转为绝对、干净、大小写折叠后的路径。
// 结果只用于比较，不要用它去访问文件。
func Normalize(path string) string {
	p := strings.TrimSpace(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.Clean(p)
	// NFC 统一组合字符，Fold 做 Unicode 大小写折叠
	return cases.Fold().String(norm.NFC.String(p))
}

// hasPathPrefix 按路径分段匹配："/a/b2" 不属于 "/a/b"
func hasPathPrefix(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	// 根目录本身以分隔符结尾，例如 "/" 或 `c:\`
	if strings.HasSuffix(root, string(os.PathSeparator)) {
		return true
	}
	return path[len(root)] == os.PathSeparator
}

func normalizeAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, Normalize(p))
	}
	return out
}
