//go:build !windows

package host

// OpenRegistry 非 Windows 平台没有注册表
func OpenRegistry(key string) (RegistrySource, error) {
	return nil, ErrRegistryUnsupported
}
