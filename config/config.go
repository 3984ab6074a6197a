// Package config 提供了统一的配置加载与管理能力.
// 配置文件为 TOML，支持 APP_ 前缀环境变量覆盖、结构体校验与文件热更新。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wyfcoding/mkl/logging"
)

// Config 全局顶级配置结构.
type Config struct {
	Version string        `mapstructure:"version" toml:"version"`
	Log     LogConfig     `mapstructure:"log"     toml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" toml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" toml:"tracing"`
	MKL     MKLConfig     `mapstructure:"mkl"     toml:"mkl"`
	SVM     SVMConfig     `mapstructure:"svm"     toml:"svm"`
	Dataset DatasetConfig `mapstructure:"dataset" toml:"dataset"`
}

// LogConfig 日志输出配置。
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"       validate:"omitempty,oneof=debug info warn error"` // 日志级别。
	Format     string `mapstructure:"format"      toml:"format"      validate:"omitempty,oneof=json text"`             // 日志格式（json/text）。
	File       string `mapstructure:"file"        toml:"file"`                                                         // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`                                                     // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`                                                  // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`                                                      // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`                                                     // 是否启用压缩。
}

// TracingConfig 链路追踪配置。
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"gte=0,lte=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 指标暴露配置。
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// MKLConfig 外层多核学习循环的参数。
type MKLConfig struct {
	Epsilon       float64 `mapstructure:"epsilon"        toml:"epsilon"        validate:"gt=0"` // 收敛阈值。
	MaxIterations int     `mapstructure:"max_iterations" toml:"max_iterations"`                  // <= 0 表示不限制。
	Norm          float64 `mapstructure:"norm"           toml:"norm"           validate:"gte=1"` // 1 为 L1 单纯形，>1 为 Lp 球。
	Workers       int     `mapstructure:"workers"        toml:"workers"        validate:"gte=0"` // 二次型并行度，0 表示 GOMAXPROCS。
	LPMaxPivots   int     `mapstructure:"lp_max_pivots"  toml:"lp_max_pivots"  validate:"gte=0"` // L1 单纯形的主元预算。
	LPSolverSteps int     `mapstructure:"lp_solver_steps" toml:"lp_solver_steps" validate:"gte=0"` // Lp 镜像下降的步数预算。
}

// SVMConfig 内层多分类 SVM 的参数。
type SVMConfig struct {
	C             float64 `mapstructure:"c"              toml:"c"              validate:"gt=0"`
	Epsilon       float64 `mapstructure:"epsilon"        toml:"epsilon"        validate:"gt=0"`
	MaxIterations int     `mapstructure:"max_iterations" toml:"max_iterations" validate:"gte=0"`
	CacheColumns  int     `mapstructure:"cache_columns"  toml:"cache_columns"  validate:"gte=0"`
}

// KernelConfig 描述一个基础核。
type KernelConfig struct {
	Name      string  `mapstructure:"name"      toml:"name"      validate:"required"`
	Type      string  `mapstructure:"type"      toml:"type"      validate:"oneof=gaussian linear polynomial noise"`
	Width     float64 `mapstructure:"width"     toml:"width"     validate:"gte=0"` // 0 表示自动估计。
	Degree    int     `mapstructure:"degree"    toml:"degree"    validate:"gte=0"`
	Offset    float64 `mapstructure:"offset"    toml:"offset"`
	Normalize bool    `mapstructure:"normalize" toml:"normalize"`
}

// DatasetConfig 合成数据集与基础核的配置。
type DatasetConfig struct {
	ClassSizes []int          `mapstructure:"class_sizes" toml:"class_sizes" validate:"min=2,dive,gt=0"`
	Sigma      float64        `mapstructure:"sigma"       toml:"sigma"       validate:"gt=0"`
	Seed       uint64         `mapstructure:"seed"        toml:"seed"`
	NoiseDim   int            `mapstructure:"noise_dim"   toml:"noise_dim"   validate:"gte=0"`
	Kernels    []KernelConfig `mapstructure:"kernels"     toml:"kernels"     validate:"min=1,dive"`
}

// defaults 是所有键的缺省值，Load 与 Default 共用。
var defaults = map[string]any{
	"version":               "dev",
	"log.level":             "info",
	"log.format":            "json",
	"metrics.port":          "9090",
	"metrics.path":          "/metrics",
	"tracing.service_name":  "mkl",
	"tracing.sampler_ratio": 1.0,
	"mkl.epsilon":           0.01,
	"mkl.max_iterations":    999,
	"mkl.norm":              1.0,
	"mkl.lp_max_pivots":     10000,
	"mkl.lp_solver_steps":   5000,
	"svm.c":                 1.0,
	"svm.epsilon":           1e-3,
	"svm.max_iterations":    1000000,
	"svm.cache_columns":     512,
	"dataset.class_sizes":   []int{210, 240, 270},
	"dataset.sigma":         1.0,
	"dataset.seed":          17,
	"dataset.noise_dim":     0,
}

// Default 返回全部使用缺省值的配置，基础核为自动宽度高斯核加线性核。
func Default() *Config {
	v := viper.New()
	applyDefaults(v)
	conf := &Config{}
	// 缺省值与结构体标签一一对应，解码不会失败
	_ = v.Unmarshal(conf)
	conf.Dataset.Kernels = []KernelConfig{
		{Name: "gaussian", Type: "gaussian", Normalize: true},
		{Name: "linear", Type: "linear", Normalize: true},
	}
	return conf
}

func applyDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

var (
	vInstance = viper.New()
	mu        sync.Mutex
	onReload  []func(*Config)
	validate  = validator.New()
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	onReload = append(onReload, hook)
}

// LoadOption 调整 Load 的行为。
type LoadOption func(*loadOptions)

type loadOptions struct {
	watch bool
	v     *viper.Viper
}

// WithWatch 控制是否监听配置文件变更，默认开启。
func WithWatch(watch bool) LoadOption {
	return func(o *loadOptions) { o.watch = watch }
}

// WithViper 使用独立的 viper 实例，避免污染全局状态。
func WithViper(v *viper.Viper) LoadOption {
	return func(o *loadOptions) { o.v = v }
}

// Load 读取配置文件、应用缺省值与环境变量覆盖并校验。
func Load(path string, conf any, opts ...LoadOption) error {
	o := &loadOptions{watch: true, v: vInstance}
	for _, opt := range opts {
		opt(o)
	}
	v := o.v

	applyDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if !o.watch {
		return nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		if unmarshalErr := v.Unmarshal(conf); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)
			return
		}

		if validateErr := validate.Struct(conf); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
			return
		}

		applyReload(conf)
		slog.Info("config hot-reloaded and validated successfully")
	})

	return nil
}

// applyReload 更新全局日志级别并触发回调。
func applyReload(conf any) {
	if c, ok := conf.(*Config); ok {
		logging.SetLevel(c.Log.Level)
		mu.Lock()
		hooks := append([]func(*Config){}, onReload...)
		mu.Unlock()
		for _, hook := range hooks {
			hook(c)
		}
		return
	}

	// 尝试使用反射获取 Log.Level
	val := reflect.ValueOf(conf)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}
	logField := val.FieldByName("Log")
	if logField.IsValid() {
		levelField := logField.FieldByName("Level")
		if levelField.IsValid() && levelField.Kind() == reflect.String {
			logging.SetLevel(levelField.String())
		}
	}
}

// LoggingConfig 将日志段转换为 logging.Config。
func (c *Config) LoggingConfig(service, module string) logging.Config {
	return logging.Config{
		Service:    service,
		Module:     module,
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}
