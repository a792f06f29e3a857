package normalize

import (
	"sort"
	"time"

	"github.com/Hara602/installMonitor/pkg/event"
)

// UnknownValue 被跟踪的注册表值不存在时的占位
const UnknownValue = "Unknown"

// RegistryBaseline 上一次轮询时的注册表状态。
// 只读值对象：每个周期由新快照整体替换，不在原地修改。
type RegistryBaseline struct {
	keys   map[string]struct{}
	values map[string]string
}

// NewRegistryBaseline 用子键名称和被跟踪值构造快照
func NewRegistryBaseline(subkeys []string, values map[string]string) RegistryBaseline {
	b := RegistryBaseline{
		keys:   make(map[string]struct{}, len(subkeys)),
		values: make(map[string]string, len(values)),
	}
	for _, k := range subkeys {
		b.keys[k] = struct{}{}
	}
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// HasKey 子键是否存在于快照
func (b RegistryBaseline) HasKey(name string) bool {
	_, ok := b.keys[name]
	return ok
}

// Value 返回被跟踪值
func (b RegistryBaseline) Value(name string) (string, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Len 子键数量
func (b RegistryBaseline) Len() int { return len(b.keys) }

// DiffRegistry 比较两次快照：
// 新出现的子键各产生一条 SoftwareInstalled，
// 值发生变化的被跟踪项各产生一条 RegistryValueChanged。
// 子键没有语义顺序，这里按名称排序只是为了输出稳定。
func DiffRegistry(keyPath string, prev, next RegistryBaseline, now time.Time) []event.Event {
	var added []string
	for k := range next.keys {
		if !prev.HasKey(k) {
			added = append(added, k)
		}
	}
	sort.Strings(added)

	var out []event.Event
	for _, k := range added {
		out = append(out, event.Event{
			Kind:       event.SoftwareInstalled,
			Subject:    k,
			Detail:     "Key: " + keyPath + `\` + k,
			ObservedAt: now,
			Origin:     event.OriginPoll,
		})
	}

	names := make([]string, 0, len(next.values))
	for name := range next.values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := next.values[name]
		old, ok := prev.values[name]
		if ok && old == v {
			continue
		}
		out = append(out, event.Event{
			Kind:       event.RegistryValueChanged,
			Subject:    keyPath + `\` + name,
			Detail:     "New Value: " + v,
			ObservedAt: now,
			Origin:     event.OriginPoll,
		})
	}
	return out
}
