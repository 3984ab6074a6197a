package mkl

import (
	"log/slog"
	"runtime"

	"github.com/wyfcoding/mkl/config"
)

const (
	defaultEpsilon       = 0.01
	defaultMaxIterations = 999
	defaultNorm          = 1.0
	defaultC             = 1.0
	defaultSVMEpsilon    = 1e-3
	defaultMaxPivots     = 10000
	defaultMaxSteps      = 5000
)

type options struct {
	epsilon       float64
	maxIterations int
	norm          float64
	c             float64
	svmEpsilon    float64
	workers       int
	maxPivots     int
	maxSteps      int
	logger        *slog.Logger
	collectors    *Collectors
}

func defaultOptions() options {
	return options{
		epsilon:       defaultEpsilon,
		maxIterations: defaultMaxIterations,
		norm:          defaultNorm,
		c:             defaultC,
		svmEpsilon:    defaultSVMEpsilon,
		workers:       runtime.GOMAXPROCS(0),
		maxPivots:     defaultMaxPivots,
		maxSteps:      defaultMaxSteps,
		logger:        slog.Default(),
	}
}

// Option 调整 Optimizer。
type Option func(*options)

// WithEpsilon 设置收敛阈值 mkl_epsilon。
func WithEpsilon(eps float64) Option {
	return func(o *options) { o.epsilon = eps }
}

// WithMaxIterations 设置外层迭代上限，<= 0 表示不限制。
func WithMaxIterations(n int) Option {
	return func(o *options) { o.maxIterations = n }
}

// WithNorm 设置权重范数 p，1 为单纯形，>1 为 Lp 球。
func WithNorm(p float64) Option {
	return func(o *options) { o.norm = p }
}

// WithC 设置透传给 SVM 的正则化常数。
func WithC(c float64) Option {
	return func(o *options) { o.c = c }
}

// WithSVMEpsilon 设置透传给 SVM 的精度。
func WithSVMEpsilon(eps float64) Option {
	return func(o *options) { o.svmEpsilon = eps }
}

// WithWorkers 设置逐核二次型的并行度。
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPivotBudget 设置 L1 子问题的单纯形主元预算。
func WithPivotBudget(n int) Option {
	return func(o *options) { o.maxPivots = n }
}

// WithStepBudget 设置 Lp 子问题的镜像下降步数预算。
func WithStepBudget(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCollectors 设置 Prometheus 指标。
func WithCollectors(c *Collectors) Option {
	return func(o *options) { o.collectors = c }
}

// OptionsFromConfig 将配置段转换为 Option 列表。
func OptionsFromConfig(m config.MKLConfig, s config.SVMConfig) []Option {
	opts := []Option{
		WithEpsilon(m.Epsilon),
		WithMaxIterations(m.MaxIterations),
		WithNorm(m.Norm),
		WithC(s.C),
		WithSVMEpsilon(s.Epsilon),
		WithWorkers(m.Workers),
	}
	if m.LPMaxPivots > 0 {
		opts = append(opts, WithPivotBudget(m.LPMaxPivots))
	}
	if m.LPSolverSteps > 0 {
		opts = append(opts, WithStepBudget(m.LPSolverSteps))
	}
	return opts
}
