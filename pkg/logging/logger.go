package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 全局日志对象，只用于运行状态和错误 (事件日志由 sink 单独写入)
var Sugar = zap.NewNop().Sugar()
var Logger = zap.NewNop()

// InitLogger 初始化日志组件
// mode: "development" 或 "production"
// level: "debug", "info", "warn", "error"
func InitLogger(mode string, level string) error {
	var config zap.Config

	// 1. 根据模式选择配置
	if mode == "production" {
		// 生产环境：JSON 格式，便于机器解析，默认只记录 Warning 及以上
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	} else {
		// 开发环境：Console 格式，彩色级别
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 2. 解析日志级别，覆盖默认配置
	if level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(zapLevel)
	}

	// 3. 构建 Logger
	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Logger = l
	Sugar = l.Sugar()
	return nil
}

// CloseLogger 确保程序退出时，所有缓冲区的日志都被写入
func CloseLogger() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
