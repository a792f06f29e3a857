//go:build windows || darwin

package ledger

import "github.com/Hara602/installMonitor/internal/filter"

// keyOf Windows 和 macOS 的默认文件系统不区分大小写，A.txt 和 a.txt 是同一个文件
func keyOf(path string) string {
	return filter.Normalize(path)
}
