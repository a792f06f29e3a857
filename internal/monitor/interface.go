package monitor

import (
	"context"

	"github.com/Hara602/installMonitor/pkg/event"
)

// Monitor 是所有数据源必须实现的接口
// 核心层不需要知道底层是 fsnotify、进程表还是注册表
//
// Start 返回的通道在 ctx 取消、数据源释放 OS 句柄之后关闭。
// 数据源尽力投递：可以漏报，但不能伪造事件。
// 初始化失败时返回 error；运行期错误以 AdapterError 事件报告，不得在循环里反复报告。
type Monitor interface {
	Name() string
	Start(ctx context.Context) (<-chan event.Event, error)
}
