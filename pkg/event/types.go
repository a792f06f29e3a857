package event

import (
	"strings"
	"time"
)

// Kind 事件类型
type Kind int

const (
	ProcessStarted Kind = iota
	SoftwareInstalled
	RegistryValueChanged
	FileCreated
	FileModified
	FileDeleted
	FileRenamed
	AdapterError
)

var kindNames = map[Kind]string{
	ProcessStarted:       "PROCESS_STARTED",
	SoftwareInstalled:    "SOFTWARE_INSTALLED",
	RegistryValueChanged: "REGISTRY_VALUE_CHANGED",
	FileCreated:          "FILE_CREATED",
	FileModified:         "FILE_MODIFIED",
	FileDeleted:          "FILE_DELETED",
	FileRenamed:          "FILE_RENAMED",
	AdapterError:         "ADAPTER_ERROR",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseKind 将配置中的名称 (如 "file_deleted") 转换为 Kind
func ParseKind(s string) (Kind, bool) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, true
		}
	}
	return 0, false
}

// Origin 事件的检测来源
type Origin int

const (
	OriginWatch Origin = iota // OS 推送的通知
	OriginScan                // 对账扫描发现
	OriginPoll                // 周期轮询对比
)

func (o Origin) String() string {
	switch o {
	case OriginScan:
		return "scan"
	case OriginPoll:
		return "poll"
	default:
		return "watch"
	}
}

// Event 标准化后的事件，构造后不再修改
type Event struct {
	Kind       Kind
	Subject    string    // 进程名、文件路径、注册表子键
	Detail     string    // 人类可读的补充信息
	ObservedAt time.Time // 本程序检测到的时间，而非 OS 报告的时间
	Origin     Origin
}

// Summary 返回不含时间戳和标记的单行描述
func (e Event) Summary() string {
	var b strings.Builder
	b.WriteString(labels[e.Kind])
	if e.Subject != "" {
		b.WriteString(": ")
		b.WriteString(e.Subject)
	}
	if e.Detail != "" {
		b.WriteString(" | ")
		b.WriteString(e.Detail)
	}
	if e.Origin == OriginScan {
		b.WriteString(" | detected by scan")
	}
	return oneLine(b.String())
}

// 日志是逐行格式，任何换行都会破坏行原子性
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
