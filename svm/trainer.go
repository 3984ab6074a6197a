// Package svm 实现基于广义最小范数问题 (GMNP) 的多分类 SVM。
//
// 训练把每个样本 i 与每个竞争类别 c != y_i 组成虚拟单类样本，
// 在虚拟核上求解最小范数问题，再把虚拟解还原为每个类别的
// (alpha, 支持向量, 偏置) 三元组以及 [样本 x 类别] 的基础 alpha 矩阵。
package svm

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/xerrors"
)

const (
	defaultC             = 1.0
	defaultEpsilon       = 1e-3
	defaultMaxIterations = 1_000_000
	defaultCacheColumns  = 512
	lowerBoundThreshold  = 1e10
)

// Machine 是单个类别的判别函数 f_c(x) = Σ α_i K(sv_i, x) + b。
type Machine struct {
	Alphas         []float64
	SupportVectors []int
	Bias           float64
}

// NumSupportVectors 返回支持向量个数。
func (m Machine) NumSupportVectors() int { return len(m.SupportVectors) }

func (m Machine) clone() Machine {
	return Machine{
		Alphas:         slices.Clone(m.Alphas),
		SupportVectors: slices.Clone(m.SupportVectors),
		Bias:           m.Bias,
	}
}

// Option 调整 Trainer。
type Option func(*Trainer)

// WithC 设置正则化常数。
func WithC(c float64) Option {
	return func(t *Trainer) { t.c = c }
}

// WithEpsilon 设置 QP 的相对精度。
func WithEpsilon(eps float64) Option {
	return func(t *Trainer) { t.epsilon = eps }
}

// WithMaxIterations 设置 QP 迭代上限。
func WithMaxIterations(n int) Option {
	return func(t *Trainer) { t.maxIterations = n }
}

// WithCacheColumns 设置核列缓存的槽位数。
func WithCacheColumns(n int) Option {
	return func(t *Trainer) { t.cacheColumns = n }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// Trainer 是 GMNP 多分类 SVM 训练器。
// 每次 Train 都从头求解，上一次的解被整体替换。
type Trainer struct {
	labels     []int
	numClasses int
	k          kernel.Matrix

	c             float64
	epsilon       float64
	maxIterations int
	cacheColumns  int
	logger        *slog.Logger

	machines   []Machine
	baseAlphas *mat.Dense
	stats      SolveStats
}

// NewTrainer 创建训练器。labels 为从 0 开始的类别下标，类别数取最大标签加一。
func NewTrainer(labels []int, opts ...Option) (*Trainer, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	numClasses := 0
	for i, y := range labels {
		if y < 0 {
			return nil, xerrors.Wrapf(ErrLabelRange, nil, "label %d at index %d", y, i)
		}
		numClasses = max(numClasses, y+1)
	}
	if numClasses < 2 {
		return nil, xerrors.Wrapf(ErrTooFewClasses, nil, "found %d class", numClasses)
	}

	t := &Trainer{
		labels:        slices.Clone(labels),
		numClasses:    numClasses,
		c:             defaultC,
		epsilon:       defaultEpsilon,
		maxIterations: defaultMaxIterations,
		cacheColumns:  defaultCacheColumns,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetKernel 设置训练使用的核。
func (t *Trainer) SetKernel(k kernel.Matrix) { t.k = k }

// SetC 设置正则化常数。
func (t *Trainer) SetC(c float64) { t.c = c }

// SetEpsilon 设置 QP 精度。
func (t *Trainer) SetEpsilon(eps float64) { t.epsilon = eps }

// C 返回正则化常数。
func (t *Trainer) C() float64 { return t.c }

// Epsilon 返回 QP 精度。
func (t *Trainer) Epsilon() float64 { return t.epsilon }

// Train 在当前核上求解 GMNP 并还原各类别的判别函数。
func (t *Trainer) Train(ctx context.Context) error {
	if t.k == nil {
		return ErrKernelNotSet
	}
	if t.k.Size() != len(t.labels) {
		return xerrors.Wrapf(ErrKernelSize, nil, "kernel has %d examples, %d labels", t.k.Size(), len(t.labels))
	}
	if !(t.c > 0) || !(t.epsilon > 0) {
		return xerrors.Wrapf(ErrInvalidParam, nil, "C=%g epsilon=%g", t.c, t.epsilon)
	}

	start := time.Now()
	solver := newGMNP(t.k, t.labels, t.numClasses, 1/(2*t.c), t.cacheColumns)
	alpha, stats, err := solver.solve(nil, t.maxIterations, 0, t.epsilon, lowerBoundThreshold)
	if err != nil {
		return err
	}
	t.stats = stats

	if stats.Exit == exitMaxIter.String() {
		t.logger.WarnContext(ctx, "gmnp reached iteration limit",
			"iterations", stats.Iterations, "ub", stats.UB, "lb", stats.LB)
	}

	t.recover(solver, alpha)

	t.logger.DebugContext(ctx, "gmnp solved",
		"iterations", stats.Iterations,
		"exit", stats.Exit,
		"ub", stats.UB,
		"lb", stats.LB,
		"cache_hits", stats.CacheHits,
		"cache_miss", stats.CacheMiss,
		"duration", time.Since(start))
	return nil
}

// recover 把虚拟解还原为 all_alphas[j][k] = Σ α (δ(y_j,k) - δ(c,k)) 与对应偏置。
func (t *Trainer) recover(solver *gmnp, alpha []float64) {
	n := len(t.labels)
	all := mat.NewDense(n, t.numClasses, nil)
	bias := make([]float64, t.numClasses)
	base := mat.NewDense(n, t.numClasses, nil)

	for i, a := range alpha {
		index, c := solver.indices(i)
		base.Set(index, c, a)
		if a == 0 {
			continue
		}
		y := t.labels[index]
		all.Set(index, y, all.At(index, y)+a)
		all.Set(index, c, all.At(index, c)-a)
		bias[y] += a
		bias[c] -= a
	}

	t.machines = make([]Machine, t.numClasses)
	for k := range t.numClasses {
		m := Machine{Bias: bias[k]}
		for j := range n {
			if v := all.At(j, k); v != 0 {
				m.Alphas = append(m.Alphas, v)
				m.SupportVectors = append(m.SupportVectors, j)
			}
		}
		t.machines[k] = m
	}
	t.baseAlphas = base
}

// NumClasses 返回类别数。
func (t *Trainer) NumClasses() int { return t.numClasses }

// Machine 返回第 c 类的判别函数，切片与训练器共享，下次训练后失效。
func (t *Trainer) Machine(c int) Machine { return t.machines[c] }

// BaseAlphas 返回 [样本 x 类别] 的虚拟样本 alpha，样本自身类别所在列为 0。
func (t *Trainer) BaseAlphas() *mat.Dense { return t.baseAlphas }

// Labels 返回训练标签的副本。
func (t *Trainer) Labels() []int { return slices.Clone(t.labels) }

// Stats 返回最近一次求解的统计。
func (t *Trainer) Stats() SolveStats { return t.stats }

// Model 返回与训练器内部状态解耦的模型副本。
func (t *Trainer) Model() (*MulticlassModel, error) {
	if t.machines == nil {
		return nil, ErrNotTrained
	}
	return NewMulticlassModel(t.machines), nil
}
