//go:build windows

package config

import (
	"golang.org/x/sys/windows"
)

// defaultMonitored 所有逻辑驱动器的根目录
func defaultMonitored() []string {
	mask, err := windows.GetLogicalDrives()
	if err != nil || mask == 0 {
		return []string{`C:\`}
	}
	var roots []string
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) != 0 {
			roots = append(roots, string(rune('A'+i))+`:\`)
		}
	}
	return roots
}

func defaultIgnored() []string {
	return []string{`C:\Windows\Temp`, `C:\$Recycle.Bin`, `C:\System Volume Information`}
}

func defaultLogFile() string {
	return `C:\InstallMonitor\install_log.txt`
}
