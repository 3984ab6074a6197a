// Package mkl 实现多核学习的外层半无限规划循环。
//
// Optimizer 交替执行两步：在当前子核权重下重新训练多分类 SVM，
// 再由对偶解导出一条切平面交给 CuttingPlaneSolver 求新的权重，
// 直到权重收敛或达到迭代上限。
package mkl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"

	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/svm"
	"github.com/wyfcoding/mkl/tracing"
	"github.com/wyfcoding/mkl/xerrors"
)

// historyLength 是收敛判定需要保留的权重历史长度。
const historyLength = 3

// Combiner 是可加权组合多个子核的核矩阵。
type Combiner interface {
	kernel.Matrix
	NumSubkernels() int
	SetSubkernelWeights(w []float64) error
	Subkernel(k int) kernel.Matrix
}

// Trainer 是外层循环驱动的多分类 SVM。
type Trainer interface {
	SetKernel(k kernel.Matrix)
	SetC(c float64)
	SetEpsilon(eps float64)
	Train(ctx context.Context) error
	NumClasses() int
	Machine(c int) svm.Machine
	BaseAlphas() *mat.Dense
	Labels() []int
}

// State 是 Optimizer 的生命周期状态。
type State int

const (
	StateUninitialized State = iota
	StateSolverReady
	StateIterating
	StateConverged
	StateMaxItersReached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSolverReady:
		return "solver_ready"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxItersReached:
		return "max_iters_reached"
	default:
		return "unknown"
	}
}

// Result 是一次训练的输出。
type Result struct {
	Model *svm.MulticlassModel
	// Weights 是最后一次求得的权重。
	Weights []float64
	// TrainedWeights 是 Model 训练时实际使用的权重，迭代上限截停时与 Weights 不同。
	TrainedWeights []float64
	State          State
	// Iterations 是执行过的 SVM 训练次数。
	Iterations int
	Criterion  Finish
	// TraceID 是 mkl.Train span 所属链路，未启用追踪时为空。
	TraceID string
}

// Optimizer 驱动 MKL 外层循环。同一实例不能并发调用 Train。
type Optimizer struct {
	combiner Combiner
	trainer  Trainer
	opts     options

	state   State
	weights []float64
	names   []string

	// 以下字段只在 Train 期间存在。
	solver  *CuttingPlaneSolver
	history [][]float64
	normw2  []float64
	steps   int
}

// NewOptimizer 创建 Optimizer。combiner 与 trainer 在 Train 时校验。
func NewOptimizer(combiner Combiner, trainer Trainer, opts ...Option) *Optimizer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Optimizer{combiner: combiner, trainer: trainer, opts: o}
}

// State 返回当前状态。
func (o *Optimizer) State() State { return o.state }

// SubkernelWeights 返回最近一次成功训练得到的权重副本，训练失败后为空。
func (o *Optimizer) SubkernelWeights() []float64 { return slices.Clone(o.weights) }

// Train 运行外层循环直到收敛或达到迭代上限。
// 配置错误、切平面子问题不可行以及 SVM 训练失败都会中止训练，不返回部分结果，
// 状态回到 StateUninitialized。
func (o *Optimizer) Train(ctx context.Context) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "mkl.Train")
	defer span.End()
	defer func() {
		if err != nil {
			tracing.SetError(ctx, err)
			o.opts.collectors.observeRun("failed")
			o.opts.logger.ErrorContext(ctx, "mkl training failed", "error", err)
			o.state, o.weights = StateUninitialized, nil
		}
		o.solver, o.history, o.normw2 = nil, nil, nil
	}()

	if err = o.setup(ctx); err != nil {
		return nil, err
	}
	numKernels := o.combiner.NumSubkernels()

	uniform := make([]float64, numKernels)
	for k := range uniform {
		uniform[k] = 1 / float64(numKernels)
	}
	o.history = [][]float64{uniform}
	o.state = StateSolverReady

	if err = o.addingWeightsStep(ctx, uniform); err != nil {
		return nil, err
	}
	trained := uniform
	o.state = StateIterating

	var crit Finish
	if numKernels == 1 {
		o.state = StateConverged
		crit = Finish{Finished: true, WeightDelta: 0, Gap: 0, Value: 0}
	}

	for iter := 0; o.state == StateIterating; {
		var w []float64
		w, err = o.solver.ComputeWeights()
		if err != nil {
			if !errors.Is(err, ErrSolverBudget) {
				return nil, err
			}
			o.opts.collectors.observeBudget()
			o.opts.logger.WarnContext(ctx, "cutting plane budget exhausted, using last feasible point",
				"iteration", iter, "error", err)
			err = nil
		}
		o.pushHistory(w)

		crit = EvaluateFinish(o.history, o.normw2, iter, FinishConfig{
			Epsilon:       o.opts.epsilon,
			MaxIterations: o.opts.maxIterations,
			Norm:          o.opts.norm,
		})
		o.opts.collectors.observeCriterion(crit.Value)
		o.opts.collectors.observeWeights(o.names, w)
		o.opts.logger.InfoContext(ctx, "mkl iteration",
			"iteration", iter,
			"weights", w,
			"weight_delta", crit.WeightDelta,
			"gap", crit.Gap,
			"theta", o.solver.Bound(),
			"constraints", o.solver.NumConstraints())

		if crit.Finished {
			o.state = StateConverged
			if crit.MaxIterationsReached {
				o.state = StateMaxItersReached
			}
			break
		}

		iter++
		if o.opts.maxIterations > 0 && iter >= o.opts.maxIterations {
			o.state = StateMaxItersReached
			break
		}

		if err = o.addingWeightsStep(ctx, w); err != nil {
			return nil, err
		}
		trained = w
	}

	if o.state == StateMaxItersReached {
		o.opts.logger.WarnContext(ctx, "mkl stopped at iteration limit without convergence",
			"max_iterations", o.opts.maxIterations, "value", crit.Value, "epsilon", o.opts.epsilon)
	}

	machines := make([]svm.Machine, o.trainer.NumClasses())
	for c := range machines {
		machines[c] = o.trainer.Machine(c)
	}
	final := slices.Clone(o.history[len(o.history)-1])
	o.weights = slices.Clone(final)

	res = &Result{
		Model:          svm.NewMulticlassModel(machines),
		Weights:        final,
		TrainedWeights: slices.Clone(trained),
		State:          o.state,
		Iterations:     o.steps,
		Criterion:      crit,
		TraceID:        tracing.GetTraceID(ctx),
	}

	tracing.AddTag(ctx, "mkl.state", o.state.String())
	tracing.AddTag(ctx, "mkl.iterations", o.steps)
	tracing.AddTag(ctx, "mkl.weights", final)
	o.opts.collectors.observeRun(o.state.String())
	o.opts.logger.InfoContext(ctx, "mkl training finished",
		"state", o.state.String(), "iterations", o.steps, "weights", final)
	return res, nil
}

// setup 校验输入并初始化切平面求解器。
func (o *Optimizer) setup(ctx context.Context) error {
	o.state = StateUninitialized
	o.steps = 0

	if o.combiner == nil {
		return ErrKernelNotSet
	}
	if o.trainer == nil {
		return ErrTrainerNotSet
	}
	if !(o.opts.epsilon > 0) || !(o.opts.c > 0) || !(o.opts.svmEpsilon > 0) {
		return xerrors.Wrapf(ErrInvalidOption, nil, "epsilon=%g C=%g svm epsilon=%g",
			o.opts.epsilon, o.opts.c, o.opts.svmEpsilon)
	}

	labels := o.trainer.Labels()
	if len(labels) == 0 {
		return ErrMissingLabels
	}
	if len(labels) != o.combiner.Size() {
		return xerrors.Wrapf(ErrLabelMismatch, nil, "%d labels for %d examples", len(labels), o.combiner.Size())
	}

	numKernels := o.combiner.NumSubkernels()
	o.solver = NewCuttingPlaneSolver(o.opts.maxPivots, o.opts.maxSteps, o.opts.logger)
	if err := o.solver.Setup(numKernels); err != nil {
		return err
	}
	if err := o.solver.SetNorm(o.opts.norm); err != nil {
		return err
	}

	o.names = make([]string, numKernels)
	for k := range numKernels {
		o.names[k] = strconv.Itoa(k)
		if named, ok := o.combiner.Subkernel(k).(interface{ Name() string }); ok && named.Name() != "" {
			o.names[k] = named.Name()
		}
	}

	o.opts.logger.InfoContext(ctx, "mkl training started",
		"subkernels", numKernels,
		"examples", len(labels),
		"norm", o.opts.norm,
		"epsilon", o.opts.epsilon,
		"max_iterations", o.opts.maxIterations)
	return nil
}

func (o *Optimizer) pushHistory(w []float64) {
	o.history = append(o.history, w)
	if len(o.history) > historyLength {
		o.history = slices.Delete(o.history, 0, len(o.history)-historyLength)
	}
}

// addingWeightsStep 在权重 w 下重新训练 SVM，并把对偶解导出的约束交给求解器。
func (o *Optimizer) addingWeightsStep(ctx context.Context, w []float64) (err error) {
	ctx, span := tracing.StartSpan(ctx, "mkl.AddingWeights")
	defer span.End()
	defer func() { tracing.SetError(ctx, err) }()

	start := time.Now()
	if err = o.combiner.SetSubkernelWeights(w); err != nil {
		return xerrors.Wrapf(ErrRetrain, err, "set weights %v", w)
	}
	o.trainer.SetC(o.opts.c)
	o.trainer.SetEpsilon(o.opts.svmEpsilon)
	o.trainer.SetKernel(o.combiner)
	if err = o.trainer.Train(ctx); err != nil {
		return xerrors.Wrapf(ErrRetrain, err, "weights %v", w)
	}

	sum, err := o.signFreeAlphaSum()
	if err != nil {
		return err
	}
	normw2 := o.normWeightsSquared()
	if err = o.solver.AddConstraint(normw2, sum); err != nil {
		return err
	}
	o.normw2 = normw2
	o.steps++

	elapsed := time.Since(start)
	o.opts.collectors.observeStep(elapsed)
	tracing.AddTag(ctx, "mkl.step", o.steps)
	tracing.AddTag(ctx, "mkl.sum_sign_free_alphas", sum)
	o.opts.logger.DebugContext(ctx, "adding weights step",
		"step", o.steps, "normw2", normw2, "sum_sign_free_alphas", sum, "duration", elapsed)
	return nil
}

// signFreeAlphaSum 计算 Σ_c b_c² + Σ_lb Σ_{nc≠y_lb} -base(lb,nc)(b_{y_lb} - b_nc - 1)。
func (o *Optimizer) signFreeAlphaSum() (float64, error) {
	labels := o.trainer.Labels()
	numClasses := o.trainer.NumClasses()

	bias := make([]float64, numClasses)
	sum := 0.0
	for c := range numClasses {
		bias[c] = o.trainer.Machine(c).Bias
		sum += bias[c] * bias[c]
	}

	base := o.trainer.BaseAlphas()
	if base == nil {
		return 0, xerrors.Wrapf(ErrRetrain, nil, "trainer exposes no base alphas")
	}
	if r, c := base.Dims(); r != len(labels) || c != numClasses {
		return 0, xerrors.Wrapf(ErrRetrain, nil, "base alphas are %dx%d, want %dx%d", r, c, len(labels), numClasses)
	}

	for lb, y := range labels {
		for nc := range numClasses {
			if nc == y {
				continue
			}
			sum -= base.At(lb, nc) * (bias[y] - bias[nc] - 1)
		}
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, xerrors.Wrapf(ErrRetrain, nil, "sign free alpha sum is %v", sum)
	}
	return sum, nil
}

// normWeightsSquared 对每个子核计算 Σ_c Σ_{i,j} α_i α_j K_k(sv_i, sv_j)。
// 各子核写入互不相交的位置，按子核并行。
func (o *Optimizer) normWeightsSquared() []float64 {
	numKernels := o.combiner.NumSubkernels()
	machines := make([]svm.Machine, o.trainer.NumClasses())
	for c := range machines {
		machines[c] = o.trainer.Machine(c)
	}

	out := make([]float64, numKernels)
	p := pool.New().WithMaxGoroutines(max(1, min(o.opts.workers, numKernels)))
	for k := range numKernels {
		sub := o.combiner.Subkernel(k)
		p.Go(func() {
			out[k] = quadraticForm(sub, machines)
		})
	}
	p.Wait()
	return out
}

func quadraticForm(k kernel.Matrix, machines []svm.Machine) float64 {
	total := 0.0
	for _, m := range machines {
		for i, svi := range m.SupportVectors {
			ai := m.Alphas[i]
			row := 0.0
			for j, svj := range m.SupportVectors {
				row += m.Alphas[j] * k.Evaluate(svi, svj)
			}
			total += ai * row
		}
	}
	return total
}

// String 用于日志。
func (r *Result) String() string {
	return fmt.Sprintf("state=%s iterations=%d weights=%v", r.State, r.Iterations, r.Weights)
}

var (
	_ Combiner = (*kernel.Combined)(nil)
	_ Trainer  = (*svm.Trainer)(nil)
)
