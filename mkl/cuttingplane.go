package mkl

import (
	"errors"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/wyfcoding/mkl/algorithm/lp"
	"github.com/wyfcoding/mkl/xerrors"
)

// cut 表示约束 θ <= ½ Σ_k coeffs[k] w[k] - offset。
type cut struct {
	coeffs []float64
	offset float64
}

// CuttingPlaneSolver 累积由对偶解导出的切平面，并求使最坏下界最大的子核权重。
//
// p == 1 时求解单纯形上的线性规划；p > 1 时在 Lp 单位球上用镜像下降
// 求解切平面乘子的对偶问题。
type CuttingPlaneSolver struct {
	numKernels int
	norm       float64
	cuts       []cut
	bound      float64

	maxPivots int
	maxSteps  int
	tolerance float64
	lambda    []float64 // Lp 模式下的乘子，跨调用热启动
	logger    *slog.Logger
}

// NewCuttingPlaneSolver 创建求解器，maxPivots 与 maxSteps 分别是两种模式的预算。
func NewCuttingPlaneSolver(maxPivots, maxSteps int, logger *slog.Logger) *CuttingPlaneSolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CuttingPlaneSolver{
		norm:      1,
		maxPivots: maxPivots,
		maxSteps:  maxSteps,
		tolerance: 1e-4,
		bound:     math.Inf(1),
		logger:    logger,
	}
}

// Setup 为新的训练重置约束存储。
func (s *CuttingPlaneSolver) Setup(numKernels int) error {
	if numKernels <= 0 {
		return xerrors.Wrapf(ErrNoSubkernels, nil, "setup with %d subkernels", numKernels)
	}
	s.numKernels = numKernels
	s.cuts = s.cuts[:0]
	s.lambda = nil
	s.bound = math.Inf(1)
	return nil
}

// SetNorm 设置范数 p。
func (s *CuttingPlaneSolver) SetNorm(p float64) error {
	if !(p >= 1) || math.IsInf(p, 0) {
		return xerrors.Wrapf(ErrInvalidNorm, nil, "norm %g", p)
	}
	s.norm = p
	return nil
}

// AddConstraint 追加一条由当前对偶解导出的约束。
func (s *CuttingPlaneSolver) AddConstraint(normw2 []float64, sumOfSignFreeAlphas float64) error {
	if s.numKernels == 0 || len(normw2) != s.numKernels {
		return xerrors.Wrapf(ErrConstraintDim, nil, "got %d coefficients for %d subkernels", len(normw2), s.numKernels)
	}
	s.cuts = append(s.cuts, cut{coeffs: slices.Clone(normw2), offset: sumOfSignFreeAlphas})
	return nil
}

// NumConstraints 返回已累积的约束数。
func (s *CuttingPlaneSolver) NumConstraints() int { return len(s.cuts) }

// Bound 返回最近一次求解得到的 θ：L1 模式为线性规划最优值，Lp 模式为最好的对偶值。
func (s *CuttingPlaneSolver) Bound() float64 { return s.bound }

// ComputeWeights 求解当前切平面子问题并返回归一化的权重。
// 返回 ErrSolverBudget 时权重仍然有效。
func (s *CuttingPlaneSolver) ComputeWeights() ([]float64, error) {
	if len(s.cuts) == 0 {
		return nil, ErrNoConstraints
	}
	if s.norm <= 1 {
		return s.computeL1()
	}
	return s.computeLp()
}

// computeL1 将 max θ 改写为标准形式：变量 u = θ + shift 与 w，
//
//	u - ½ n_i·w <= shift - S_i,  Σ w <= 1,  u, w >= 0
//
// shift 保证右端项非负且 θ 的最优值落在 u >= 0 内。
func (s *CuttingPlaneSolver) computeL1() ([]float64, error) {
	K := s.numKernels
	shift := 0.0
	for _, c := range s.cuts {
		neg := 0.0
		for _, v := range c.coeffs {
			neg += math.Max(0, -v)
		}
		shift = math.Max(shift, c.offset+0.5*neg)
	}

	rows := make([][]float64, 0, len(s.cuts)+1)
	bounds := make([]float64, 0, len(s.cuts)+1)
	for _, c := range s.cuts {
		row := make([]float64, K+1)
		row[0] = 1
		for k, v := range c.coeffs {
			row[k+1] = -0.5 * v
		}
		rows = append(rows, row)
		bounds = append(bounds, shift-c.offset)
	}
	sumRow := make([]float64, K+1)
	for k := range K {
		sumRow[k+1] = 1
	}
	rows = append(rows, sumRow)
	bounds = append(bounds, 1)

	objective := make([]float64, K+1)
	objective[0] = 1

	sol, err := lp.Maximize(objective, rows, bounds, lp.WithMaxPivots(s.maxPivots))
	var budgetErr error
	switch {
	case err == nil:
	case errors.Is(err, lp.ErrPivotBudget):
		budgetErr = xerrors.Wrapf(ErrSolverBudget, err, "simplex stopped after %d pivots", sol.Pivots)
	default:
		return nil, xerrors.Wrapf(ErrSolverInfeasible, err, "%d constraints", len(s.cuts))
	}

	s.bound = sol.Objective - shift
	w := s.normalizeSimplex(sol.X[1:])
	s.logger.Debug("cutting plane lp solved",
		"constraints", len(s.cuts), "pivots", sol.Pivots, "theta", s.bound, "weights", w)
	return w, budgetErr
}

// normalizeSimplex 把权重截断到 [0,1] 后除以总和，总和非正时退回均匀权重。
func (s *CuttingPlaneSolver) normalizeSimplex(x []float64) []float64 {
	w := make([]float64, len(x))
	for k, v := range x {
		w[k] = math.Max(0, math.Min(1, v))
	}
	sum := floats.Sum(w)
	if sum > 0 {
		floats.Scale(1/sum, w)
		return w
	}
	s.logger.Debug("cutting plane weights sum to zero, using uniform weights", "sum", sum)
	for k := range w {
		w[k] = 1 / float64(len(w))
	}
	return w
}

// computeLp 在 λ ∈ 单纯形上最小化对偶函数
//
//	g(λ) = ||ā||_q - λ·S,  ā = Σ λ_i a_i,  a_i = ½ n_i,  q = p/(p-1)
//
// 对应的原始点 w_k ∝ ā_k^{1/(p-1)} 归一化到单位 Lp 范数。
// 使用指数梯度更新，记录最好的原始点与对偶值，二者差距足够小时停止。
func (s *CuttingPlaneSolver) computeLp() ([]float64, error) {
	m := len(s.cuts)
	p := s.norm
	q := p / (p - 1)

	a := make([][]float64, m)
	offsets := make([]float64, m)
	G := 0.0
	for i, c := range s.cuts {
		a[i] = make([]float64, s.numKernels)
		floats.ScaleTo(a[i], 0.5, c.coeffs)
		offsets[i] = c.offset
		G = math.Max(G, floats.Norm(a[i], 1)+math.Abs(c.offset))
	}
	if G == 0 {
		G = 1
	}

	s.warmStart(m)

	abar := make([]float64, s.numKernels)
	grad := make([]float64, m)
	bestF, bestG := math.Inf(-1), math.Inf(1)
	var bestW []float64

	for t := 1; s.maxSteps <= 0 || t <= s.maxSteps; t++ {
		for k := range abar {
			abar[k] = 0
		}
		for i, l := range s.lambda {
			floats.AddScaled(abar, l, a[i])
		}
		w := s.lpPoint(abar)

		gval := lpDualNorm(abar, q) - floats.Dot(s.lambda, offsets)
		fval := math.Inf(1)
		for i := range a {
			grad[i] = floats.Dot(a[i], w) - offsets[i]
			fval = math.Min(fval, grad[i])
		}
		if fval > bestF {
			bestF, bestW = fval, w
		}
		bestG = math.Min(bestG, gval)

		// |bestG| <= G，按系数规模取相对容差。
		if bestG-bestF <= s.tolerance*G {
			s.bound = bestG
			s.logger.Debug("cutting plane mirror descent converged",
				"constraints", m, "steps", t, "primal", bestF, "dual", bestG)
			return bestW, nil
		}

		eta := math.Sqrt(2*math.Log(math.Max(2, float64(m)))/float64(t)) / G
		gmin := floats.Min(grad)
		for i := range s.lambda {
			s.lambda[i] *= math.Exp(-eta * (grad[i] - gmin))
		}
		floats.Scale(1/floats.Sum(s.lambda), s.lambda)
	}

	s.bound = bestG
	return bestW, xerrors.Wrapf(ErrSolverBudget, nil, "mirror descent gap %g after %d steps", bestG-bestF, s.maxSteps)
}

// warmStart 为新增的约束分配乘子，保留已有乘子的相对大小。
func (s *CuttingPlaneSolver) warmStart(m int) {
	if len(s.lambda) == 0 {
		s.lambda = make([]float64, m)
		for i := range s.lambda {
			s.lambda[i] = 1 / float64(m)
		}
		return
	}
	for len(s.lambda) < m {
		s.lambda = append(s.lambda, 1/float64(m))
	}
	floats.Scale(1/floats.Sum(s.lambda), s.lambda)
}

// lpPoint 返回 Lp 单位球上与 ā 内积最大的非负点。
// p 接近 1 时指数 1/(p-1) 很大，先把 ā 缩放到最大分量为 1 再取幂，结果与缩放无关。
func (s *CuttingPlaneSolver) lpPoint(abar []float64) []float64 {
	p := s.norm
	w, mx := positivePart(abar)
	if mx > 0 {
		for k, v := range w {
			if v > 0 {
				w[k] = math.Pow(v/mx, 1/(p-1))
			}
		}
	}
	n := floats.Norm(w, p)
	if n == 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		for k := range w {
			w[k] = 1
		}
		n = floats.Norm(w, p)
	}
	floats.Scale(1/n, w)
	return w
}

// lpDualNorm 返回 ā 正部的 Lq 范数，计算为 m·||ā₊/m||_q 以免 q 很大时下溢。
func lpDualNorm(abar []float64, q float64) float64 {
	pos, mx := positivePart(abar)
	if mx == 0 {
		return 0
	}
	floats.Scale(1/mx, pos)
	return mx * floats.Norm(pos, q)
}

// positivePart 返回 max(0, v) 的拷贝及其最大分量。
func positivePart(v []float64) ([]float64, float64) {
	pos := make([]float64, len(v))
	mx := 0.0
	for k, x := range v {
		pos[k] = math.Max(0, x)
		mx = math.Max(mx, pos[k])
	}
	return pos, mx
}
