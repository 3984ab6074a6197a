// Package bootstrap 负责命令行程序的通用基础设施：配置、日志、追踪与指标，
// 并按注册的逆序释放它们。
package bootstrap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spf13/pflag"

	"github.com/wyfcoding/mkl/config"
	"github.com/wyfcoding/mkl/logging"
	"github.com/wyfcoding/mkl/metrics"
	"github.com/wyfcoding/mkl/tracing"
)

// DefaultConfigPath 是未指定 --config 时读取的文件。
const DefaultConfigPath = "configs/mkltrain.toml"

// Hook 是一个需要在退出时释放的组件。
type Hook struct {
	Name   string
	OnStop func(ctx context.Context) error
}

// Bootstrapper 处理通用基础设施的初始化
type Bootstrapper struct {
	ServiceName string
	Version     string
	Logger      *logging.Logger
	Config      *config.Config
	Metrics     *metrics.Metrics

	mu    sync.Mutex
	hooks []Hook
}

// New 创建一个新的引导器实例
func New(serviceName, version string) *Bootstrapper {
	return &Bootstrapper{
		ServiceName: serviceName,
		Version:     version,
	}
}

// Initialize 解析命令行参数、加载配置文件，并按配置初始化全局日志。
func (b *Bootstrapper) Initialize(args []string) error {
	fs := pflag.NewFlagSet(b.ServiceName, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", DefaultConfigPath, "path to config file")
	watch := fs.Bool("watch", false, "reload log level when the config file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := &config.Config{}
	if err := config.Load(*configPath, cfg, config.WithWatch(*watch)); err != nil {
		// 配置不可用时仍然需要一个日志出口
		logging.EnsureDefaultLogger()
		logging.Default().Error("failed to load config", "path", *configPath, "error", err)
		return err
	}
	if cfg.Version == "" {
		cfg.Version = b.Version
	}
	b.Config = cfg

	logging.InitLogger(cfg.LoggingConfig(b.ServiceName, "main"))
	b.Logger = logging.Default()
	config.PrintWithMask(cfg)
	if *watch {
		config.RegisterReloadHook(b.logReload)
	}
	return nil
}

// logReload 记录热更新后的训练参数，正在进行的训练不受影响，下一次训练生效。
func (b *Bootstrapper) logReload(c *config.Config) {
	b.logger().Info("config reloaded, training settings apply to the next run",
		"log_level", c.Log.Level, "mkl", c.MKL, "svm", c.SVM)
}

// Append 注册一个退出时释放的组件。
func (b *Bootstrapper) Append(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// SetupTracing 初始化 OpenTelemetry 追踪器，失败时只记录日志。
func (b *Bootstrapper) SetupTracing(cfg config.TracingConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = b.ServiceName
	}
	shutdown, err := tracing.InitTracer(cfg)
	if err != nil {
		b.logger().Error("failed to init tracer", "error", err)
		return
	}
	b.Append(Hook{Name: "tracer", OnStop: shutdown})
}

// SetupMetrics 创建指标注册表，启用时在独立端口暴露。
func (b *Bootstrapper) SetupMetrics(cfg config.MetricsConfig) *metrics.Metrics {
	m := metrics.NewMetrics(b.ServiceName)
	m.RegisterBuildInfo(b.ServiceName, b.Version)
	b.Metrics = m
	if !cfg.Enabled {
		return m
	}
	stop := m.ExposeHttp(cfg.Port, cfg.Path)
	b.Append(Hook{Name: "metrics", OnStop: func(context.Context) error {
		stop()
		return nil
	}})
	return m
}

// Shutdown 以注册的逆序释放所有组件，返回第一个错误。
func (b *Bootstrapper) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for i := len(b.hooks) - 1; i >= 0; i-- {
		hook := b.hooks[i]
		if hook.OnStop == nil {
			continue
		}
		b.logger().Debug("stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			b.logger().Error("failed to stop component", "name", hook.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.hooks = nil
	return firstErr
}

func (b *Bootstrapper) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger.Logger
	}
	return slog.Default()
}
