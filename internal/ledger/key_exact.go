//go:build !windows && !darwin

package ledger

// keyOf 区分大小写的文件系统上 A.txt 和 a.txt 是两个文件，键不做折叠
func keyOf(path string) string {
	return absClean(path)
}
