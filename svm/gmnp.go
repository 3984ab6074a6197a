package svm

import (
	"math"

	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/xerrors"
)

// exitFlag 是 IMDM 求解器的停止原因。
type exitFlag int

const (
	exitMaxIter   exitFlag = iota // t >= tmax
	exitAbsTol                    // UB-LB <= tolabs
	exitRelTol                    // UB-LB <= |UB|*tolrel
	exitThreshold                 // LB > th
)

func (f exitFlag) String() string {
	switch f {
	case exitAbsTol:
		return "abs_tol"
	case exitRelTol:
		return "rel_tol"
	case exitThreshold:
		return "threshold"
	default:
		return "max_iter"
	}
}

// SolveStats 记录一次 QP 求解的结果。
type SolveStats struct {
	Iterations int
	Exit       string
	UB, LB     float64
	CacheHits  int
	CacheMiss  int
}

// gmnp 求解广义最小范数问题
//
//	min ½ αᵀHα + cᵀα,  Σα = 1, α >= 0
//
// H 是由 n(nc-1) 个虚拟单类样本构成的虚拟核矩阵，按列惰性计算。
// 所有中间缓冲都属于实例本身。
type gmnp struct {
	y          []int
	numClasses int
	numVirt    int
	regConst   float64

	cache    *columnCache
	diagH    []float64
	virtCols [3][]float64
	nextVirt int
}

func newGMNP(k kernel.Matrix, y []int, numClasses int, regConst float64, cacheColumns int) *gmnp {
	numVirt := len(y) * (numClasses - 1)
	s := &gmnp{
		y:          y,
		numClasses: numClasses,
		numVirt:    numVirt,
		regConst:   regConst,
		cache:      newColumnCache(k, cacheColumns),
		diagH:      make([]float64, numVirt),
	}
	for i := range s.virtCols {
		s.virtCols[i] = make([]float64, numVirt)
	}
	for i := range numVirt {
		s.diagH[i] = s.virtualKernel(k, i, i)
	}
	return s
}

// indices 将虚拟样本下标映射为 (样本下标, 竞争类别)，竞争类别跳过样本自身的类别。
func (s *gmnp) indices(i int) (index, c int) {
	index = i / (s.numClasses - 1)
	c = i % (s.numClasses - 1)
	if c >= s.y[index] {
		c++
	}
	return index, c
}

func delta(a, b int) float64 {
	if a == b {
		return 1
	}
	return 0
}

// virtualEntry 计算 (δ(y1,y2) - δ(y1,c2) - δ(y2,c1) + δ(c1,c2)) * (K + 1)。
func virtualEntry(y1, c1, y2, c2 int, kv float64) float64 {
	if y1 != y2 && y1 != c2 && y2 != c1 && c1 != c2 && y1 != c1 && y2 != c2 {
		return 0
	}
	return (delta(y1, y2) - delta(y1, c2) - delta(y2, c1) + delta(c1, c2)) * (kv + 1)
}

func (s *gmnp) virtualKernel(k kernel.Matrix, a, b int) float64 {
	i1, c1 := s.indices(a)
	i2, c2 := s.indices(b)
	v := virtualEntry(s.y[i1], c1, s.y[i2], c2, k.Evaluate(i1, i2))
	if a == b {
		v += s.regConst
	}
	return v
}

// column 返回虚拟核矩阵第 a 列。三个槽位轮转使用：
// 更新中同时用到的 u、v 两列总来自最近两次调用，不会被覆盖。
func (s *gmnp) column(a int) []float64 {
	col := s.virtCols[s.nextVirt]
	s.nextVirt = (s.nextVirt + 1) % len(s.virtCols)

	i1, c1 := s.indices(a)
	ker := s.cache.column(i1)
	y1 := s.y[i1]

	for i := range s.numVirt {
		i2, c2 := s.indices(i)
		v := virtualEntry(y1, c1, s.y[i2], c2, ker[i2])
		if a == i {
			v += s.regConst
		}
		col[i] = v
	}
	return col
}

// solve 运行改进 MDM 算法（u 按常规规则选取，v 做最优搜索）。
// vectorC 为 nil 时视为零向量。
func (s *gmnp) solve(vectorC []float64, tmax int, tolabs, tolrel, th float64) ([]float64, SolveStats, error) {
	dim := s.numVirt
	if vectorC == nil {
		vectorC = make([]float64, dim)
	}
	alpha := make([]float64, dim)
	ha := make([]float64, dim)

	// v = argmin(½ diag(H) + c)
	v := 0
	for i, best := 0, math.Inf(1); i < dim; i++ {
		if tmp := 0.5*s.diagH[i] + vectorC[i]; tmp < best {
			best = tmp
			v = i
		}
	}

	colV := s.column(v)
	u := 0
	minBeta := math.Inf(1)
	for i := range dim {
		ha[i] = colV[i]
		if beta := ha[i] + vectorC[i]; beta < minBeta {
			minBeta = beta
			u = i
		}
	}

	alpha[v] = 1
	aHa := s.diagH[v]
	ac := vectorC[v]

	ub := 0.5*aHa + ac
	lb := minBeta - 0.5*aHa

	stop := func(t int) (exitFlag, bool) {
		switch {
		case ub-lb <= tolabs:
			return exitAbsTol, true
		case ub-lb <= math.Abs(ub)*tolrel:
			return exitRelTol, true
		case lb > th:
			return exitThreshold, true
		case t >= tmax:
			return exitMaxIter, true
		}
		return 0, false
	}

	t := 0
	flag, done := stop(-1)
	colU := s.column(u)
	for !done {
		t++

		colV = s.column(v)

		huu := s.diagH[u]
		hvv := s.diagH[v]
		huv := colU[v]
		curv := huu - 2*huv + hvv

		lambda := 0.0
		if den := alpha[v] * curv; den > 0 {
			lambda = (ha[v] - ha[u] + vectorC[v] - vectorC[u]) / den
			lambda = max(0, min(1, lambda))
		}

		aHa += 2*alpha[v]*lambda*(ha[u]-ha[v]) + lambda*lambda*alpha[v]*alpha[v]*curv
		ac += lambda * alpha[v] * (vectorC[u] - vectorC[v])

		step := lambda * alpha[v]
		alpha[u] += step
		alpha[v] -= step

		ub = 0.5*aHa + ac

		newU := u
		minBeta = math.Inf(1)
		for i := range dim {
			ha[i] += step * (colU[i] - colV[i])
			if beta := ha[i] + vectorC[i]; beta < minBeta {
				newU = i
				minBeta = beta
			}
		}

		lb = minBeta - 0.5*aHa
		if math.IsNaN(ub) || math.IsNaN(lb) || math.IsInf(ub, 0) || math.IsInf(lb, 0) {
			return nil, SolveStats{Iterations: t, UB: ub, LB: lb}, xerrors.Wrapf(ErrNumeric, nil, "iteration %d: UB=%g LB=%g", t, ub, lb)
		}

		u = newU
		colU = s.column(u)

		// u 固定，搜索改进量最大的 v
		maxImprov := math.Inf(-1)
		for i := range dim {
			if alpha[i] == 0 {
				continue
			}
			beta := ha[i] + vectorC[i]
			if beta < minBeta {
				continue
			}
			tmp := s.diagH[u] - 2*colU[i] + s.diagH[i]
			if tmp == 0 {
				continue
			}
			if improv := 0.5 * (beta - minBeta) * (beta - minBeta) / tmp; improv > maxImprov {
				maxImprov = improv
				v = i
			}
		}

		flag, done = stop(t)
	}

	return alpha, SolveStats{
		Iterations: t,
		Exit:       flag.String(),
		UB:         ub,
		LB:         lb,
		CacheHits:  s.cache.hits,
		CacheMiss:  s.cache.miss,
	}, nil
}
