package event

import "github.com/fatih/color"

var labels = map[Kind]string{
	ProcessStarted:       "Process started",
	SoftwareInstalled:    "New software installed",
	RegistryValueChanged: "Registry modified",
	FileCreated:          "New file created",
	FileModified:         "File modified",
	FileDeleted:          "File deleted",
	FileRenamed:          "File renamed",
	AdapterError:         "Error",
}

// Style 控制台展示方式
type Style struct {
	Marker string
	Color  color.Attribute // 控制台前景色
}

// Styles 事件类型到标记/颜色的映射表
type Styles map[Kind]Style

// DefaultStyles 每种事件一个不同的标记
func DefaultStyles() Styles {
	return Styles{
		ProcessStarted:       {Marker: "🔵", Color: color.FgCyan},
		SoftwareInstalled:    {Marker: "🟢", Color: color.FgGreen},
		RegistryValueChanged: {Marker: "📝", Color: color.FgWhite},
		FileCreated:          {Marker: "📂", Color: color.FgMagenta},
		FileModified:         {Marker: "✏️", Color: color.FgYellow},
		FileDeleted:          {Marker: "🗑️", Color: color.FgRed},
		FileRenamed:          {Marker: "🔄", Color: color.FgBlue},
		AdapterError:         {Marker: "❌", Color: color.FgHiRed},
	}
}

// WithMarkers 用配置覆盖标记，未知的类型名被忽略并返回
func (s Styles) WithMarkers(overrides map[string]string) (Styles, []string) {
	out := make(Styles, len(s))
	for k, v := range s {
		out[k] = v
	}
	var unknown []string
	for name, marker := range overrides {
		k, ok := ParseKind(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		st := out[k]
		st.Marker = marker
		out[k] = st
	}
	return out, unknown
}

// Of 返回某类型的样式，缺失时退回 "•"
func (s Styles) Of(k Kind) Style {
	if st, ok := s[k]; ok {
		return st
	}
	return Style{Marker: "•", Color: color.FgWhite}
}
