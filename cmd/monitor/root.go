package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Hara602/installMonitor/internal/config"
	"github.com/Hara602/installMonitor/internal/core"
	"github.com/Hara602/installMonitor/internal/filter"
	"github.com/Hara602/installMonitor/internal/ledger"
	"github.com/Hara602/installMonitor/internal/metrics"
	"github.com/Hara602/installMonitor/internal/monitor/host"
	"github.com/Hara602/installMonitor/internal/normalize"
	"github.com/Hara602/installMonitor/internal/sink"
	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/Hara602/installMonitor/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// rootOptions 命令行参数，非空时覆盖配置文件
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Mode       string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "installmonitor",
		Short: "Install Monitor - record what changes on this host",
		Long: `Watch the filesystem, process starts and (on Windows) the registry,
and append one human-readable line per observed change to the event log.

Example:
  installmonitor
  installmonitor --config /etc/installmonitor.yaml --log-level debug`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runService(func(ctx context.Context, interactive bool) error {
				var console io.Writer
				if interactive {
					console = cmd.OutOrStdout()
				}
				return run(ctx, cfg, console)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file (defaults are used when empty)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "operational log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "operational log mode (development|production)")

	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.InstallMonitor.Logging.Level = opts.LogLevel
	}
	if opts.Mode != "" {
		cfg.InstallMonitor.Logging.Mode = opts.Mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run 组装流水线并阻塞到 ctx 取消。console 为 nil 时不输出控制台镜像 (服务模式)。
func run(ctx context.Context, cfg *config.Config, console io.Writer) (err error) {
	im := cfg.InstallMonitor

	// 初始化日志系统
	if err := logging.InitLogger(im.Logging.Mode, im.Logging.Level); err != nil {
		return err
	}
	defer logging.CloseLogger() // 确保退出时刷新日志缓冲区
	log := logging.Logger

	styles, unknown := event.DefaultStyles().WithMarkers(im.Log.Markers)
	if len(unknown) > 0 {
		log.Warn("ignoring markers for unknown event kinds", zap.Strings("kinds", unknown))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if !config.Enabled(im.Log.Console, true) {
		console = nil
	}
	// 日志文件无法打开则启动失败
	out, err := sink.Open(sink.Options{
		Path:    im.Log.File,
		Console: console,
		Color:   config.Enabled(im.Log.Color, true),
		Styles:  styles,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	if console != nil {
		printBanner(console, im)
	}

	pf := filter.New(im.Paths.Monitored, im.Paths.Ignored, im.Log.File)
	l := ledger.New()
	metrics.RegisterLedgerSize(reg, l.Len)
	scanner := ledger.NewScanner(l, im.Scan.Period, log)
	deps := host.Deps{Log: log, Metrics: m}

	engine := core.NewEngine(out, log)

	// 每个监控根目录一个文件监控适配器
	for _, root := range filter.WatchRoots(im.Paths.Monitored) {
		engine.AddMonitor(host.NewFSMonitor(root, pf, l, deps,
			host.WithContentType(im.Files.SniffContentType),
			host.WithOverflowHandler(scanner.Kick),
		))
	}
	engine.AddMonitor(scanner)

	if config.Enabled(im.Process.Enabled, true) {
		engine.AddMonitor(host.NewProcessMonitor(host.SystemProcessTable(), im.Process.PollInterval, deps))
	}

	if config.Enabled(im.Registry.Enabled, true) {
		addRegistryMonitors(engine, out, im.Registry, deps)
	}

	logging.Sugar.Infof("install monitor running: %d roots, event log %s", len(im.Paths.Monitored), im.Log.File)

	var g errgroup.Group
	g.Go(func() error {
		return engine.Run(ctx)
	})
	if im.Metrics.Listen != "" {
		g.Go(func() error {
			// 指标端口失败不影响监控本身
			if err := metrics.Serve(ctx, im.Metrics.Listen, reg); err != nil {
				log.Error("metrics listener stopped", zap.String("addr", im.Metrics.Listen), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func addRegistryMonitors(engine *core.Engine, out *sink.Sink, rc config.RegistryConfig, deps host.Deps) {
	for _, w := range rc.Watches {
		src, err := host.OpenRegistry(w.Key)
		if errors.Is(err, host.ErrRegistryUnsupported) {
			deps.Log.Info("registry monitoring skipped", zap.Error(err))
			return
		}
		if err != nil {
			name := "registry:" + w.Key
			deps.Log.Error("failed to open registry key", zap.String("key", w.Key), zap.Error(err))
			_ = out.Emit(normalize.AdapterFailure(name, err, time.Now()))
			continue
		}
		watch := host.RegistryWatch{Key: w.Key, Subkeys: w.Subkeys, Values: w.Values}
		engine.AddMonitor(host.NewRegistryMonitor(src, watch, rc.PollInterval, deps))
	}
}

func printBanner(w io.Writer, im config.InstallMonitorConfig) {
	fmt.Fprintf(w, "============================================\n")
	fmt.Fprintf(w, "🛡️ Install Monitor Started\n")
	fmt.Fprintf(w, "📂 Watching: %s\n", strings.Join(im.Paths.Monitored, ", "))
	if len(im.Paths.Ignored) > 0 {
		fmt.Fprintf(w, "🚫 Ignoring: %s\n", strings.Join(im.Paths.Ignored, ", "))
	}
	fmt.Fprintf(w, "📄 Event log: %s\n", im.Log.File)
	fmt.Fprintf(w, "============================================\n")
}

// runInteractive 前台运行，Ctrl+C 或 SIGTERM 时停止
func runInteractive(run func(ctx context.Context, interactive bool) error) error {
	ctx, stop := signalContext()
	defer stop()
	err := run(ctx, true)
	if err == nil {
		fmt.Fprintln(os.Stderr, "install monitor stopped")
	}
	return err
}
