//go:build !windows

package config

func defaultMonitored() []string {
	return []string{"/etc", "/opt", "/usr/local", "/home"}
}

func defaultIgnored() []string {
	return []string{}
}

func defaultLogFile() string {
	return "/var/log/installmonitor/install_log.txt"
}
