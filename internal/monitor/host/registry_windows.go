//go:build windows

package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Hara602/installMonitor/internal/normalize"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type winRegistry struct {
	root registry.Key
	path string
}

// OpenRegistry 解析 "HKLM\SOFTWARE\..." 形式的路径，未写根键时默认 HKLM。
// 每次 Read 都重新以只读方式打开键。
func OpenRegistry(key string) (RegistrySource, error) {
	root, path := registry.LOCAL_MACHINE, key
	if i := strings.IndexByte(key, '\\'); i > 0 {
		switch strings.ToUpper(key[:i]) {
		case "HKLM", "HKEY_LOCAL_MACHINE":
			root, path = registry.LOCAL_MACHINE, key[i+1:]
		case "HKCU", "HKEY_CURRENT_USER":
			root, path = registry.CURRENT_USER, key[i+1:]
		case "HKU", "HKEY_USERS":
			root, path = registry.USERS, key[i+1:]
		}
	}
	if path == "" {
		return nil, fmt.Errorf("empty registry path in %q", key)
	}
	return &winRegistry{root: root, path: path}, nil
}

func (w *winRegistry) Read(subkeys bool, values []string) (normalize.RegistryBaseline, error) {
	k, err := registry.OpenKey(w.root, w.path, registry.ENUMERATE_SUB_KEYS|registry.QUERY_VALUE)
	if err != nil {
		return normalize.RegistryBaseline{}, fmt.Errorf("open %s: %w", w.path, err)
	}
	defer k.Close()

	var names []string
	if subkeys {
		names, err = k.ReadSubKeyNames(-1)
		if err != nil {
			return normalize.RegistryBaseline{}, fmt.Errorf("enumerate %s: %w", w.path, err)
		}
	}

	vals := make(map[string]string, len(values))
	for _, name := range values {
		v, _, err := k.GetStringValue(name)
		switch {
		case err == nil:
			vals[name] = v
		case errors.Is(err, registry.ErrNotExist):
			vals[name] = normalize.UnknownValue
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			vals[name] = "unavailable (access denied)"
		default:
			vals[name] = fmt.Sprintf("unavailable (%v)", err)
		}
	}
	return normalize.NewRegistryBaseline(names, vals), nil
}
