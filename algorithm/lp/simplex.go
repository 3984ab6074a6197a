// Package lp 提供稠密单纯形表求解器，用于求解标准形式线性规划：
//
//	max c·x  s.t.  A x <= b,  x >= 0,  b >= 0
//
// 松弛变量构成初始可行基，因此不需要两阶段法。
package lp

import (
	"math"

	"github.com/wyfcoding/mkl/xerrors"
)

const lpEpsilon = 1e-9

// ErrPivotBudget 表示达到主元预算仍未最优，返回的解仍是可行点。
var ErrPivotBudget = xerrors.New(xerrors.ErrNotConverged, 500020, "simplex pivot budget exhausted", "the returned point is feasible but not optimal", nil)

// Solution 是一次求解的结果。
type Solution struct {
	X         []float64 // 原始变量取值
	Objective float64   // c·x
	Pivots    int       // 实际执行的主元次数
}

// Option 调整求解器行为。
type Option func(*Simplex)

// WithMaxPivots 设置主元预算，<= 0 表示不限制。
func WithMaxPivots(n int) Option {
	return func(s *Simplex) { s.maxPivots = n }
}

// Simplex 结构体实现了标准的单纯形法 (Simplex Method)。
type Simplex struct {
	constraintsCount int         // 约束个数。
	variablesCount   int         // 变量个数。
	tableau          [][]float64 // 单纯形表。
	maxPivots        int
	degenerate       int   // 连续退化主元次数，超过阈值后切换到 Bland 规则
	basis            []int // basis[i] 是第 i 行的基变量列号
}

// New 初始化一个单纯形求解器。
func New(objective []float64, constraints [][]float64, bounds []float64, opts ...Option) (*Simplex, error) {
	m := len(constraints)
	n := len(objective)

	if n == 0 {
		return nil, xerrors.Wrapf(xerrors.ErrEmptyData, nil, "objective has no variables")
	}
	if m != len(bounds) {
		return nil, xerrors.Wrapf(xerrors.ErrDimMismatchBounds, nil, "%d constraint rows, %d bounds", m, len(bounds))
	}

	tableau := make([][]float64, m+1)
	for i := range tableau {
		tableau[i] = make([]float64, n+m+1)
	}

	for i := range m {
		if len(constraints[i]) != n {
			return nil, xerrors.Wrapf(xerrors.ErrDimMismatch, nil, "row %d has %d coefficients, want %d", i, len(constraints[i]), n)
		}
		if bounds[i] < 0 {
			return nil, xerrors.Wrapf(xerrors.ErrNegativeBound, nil, "row %d bound %g", i, bounds[i])
		}
		copy(tableau[i][:n], constraints[i])
		tableau[i][n+i] = 1.0
		tableau[i][n+m] = bounds[i]
	}

	for j := range n {
		tableau[m][j] = -objective[j]
	}

	basis := make([]int, m)
	for i := range basis {
		basis[i] = n + i
	}

	s := &Simplex{
		constraintsCount: m,
		variablesCount:   n,
		tableau:          tableau,
		basis:            basis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Solve 执行单纯形迭代求解。
// 主元预算耗尽时返回当前基可行解与 ErrPivotBudget。
func (s *Simplex) Solve() (Solution, error) {
	pivots := 0
	for {
		bland := s.degenerate > s.variablesCount+s.constraintsCount
		pivotCol := s.findPivotColumn(bland)
		if pivotCol == -1 {
			break
		}

		pivotRow := s.findPivotRow(pivotCol, bland)
		if pivotRow == -1 {
			return Solution{}, xerrors.Wrapf(xerrors.ErrUnboundedProblem, nil, "column %d has no positive entry", pivotCol)
		}

		if s.maxPivots > 0 && pivots >= s.maxPivots {
			return s.solution(pivots), xerrors.Wrapf(ErrPivotBudget, nil, "after %d pivots", pivots)
		}

		if s.tableau[pivotRow][s.rhsCol()] < lpEpsilon {
			s.degenerate++
		} else {
			s.degenerate = 0
		}
		s.pivot(pivotRow, pivotCol)
		pivots++
	}

	return s.solution(pivots), nil
}

func (s *Simplex) rhsCol() int {
	return s.variablesCount + s.constraintsCount
}

func (s *Simplex) solution(pivots int) Solution {
	return Solution{
		X:         s.extractSolution(),
		Objective: s.tableau[s.constraintsCount][s.rhsCol()],
		Pivots:    pivots,
	}
}

// findPivotColumn 默认取最负的检验数；bland 为真时取下标最小的负检验数以避免循环。
func (s *Simplex) findPivotColumn(bland bool) int {
	pivotCol := -1
	minVal := -lpEpsilon

	obj := s.tableau[s.constraintsCount]
	for j := range s.rhsCol() {
		if obj[j] < minVal {
			if bland {
				return j
			}
			minVal = obj[j]
			pivotCol = j
		}
	}

	return pivotCol
}

// findPivotRow 按最小比值选出基行；比值相同时默认取靠前的行，
// bland 为真时取基变量下标最小的行，与 findPivotColumn 一起构成完整的 Bland 规则。
func (s *Simplex) findPivotRow(pivotCol int, bland bool) int {
	pivotRow := -1
	minRatio := math.MaxFloat64
	rhs := s.rhsCol()

	for i := range s.constraintsCount {
		if s.tableau[i][pivotCol] <= lpEpsilon {
			continue
		}
		ratio := s.tableau[i][rhs] / s.tableau[i][pivotCol]
		switch {
		case ratio < minRatio-lpEpsilon:
			minRatio = ratio
			pivotRow = i
		case bland && ratio <= minRatio+lpEpsilon && s.basis[i] < s.basis[pivotRow]:
			pivotRow = i
		}
	}

	return pivotRow
}

func (s *Simplex) pivot(row, col int) {
	s.basis[row] = col
	pivotVal := s.tableau[row][col]
	limit := s.rhsCol()

	for j := 0; j <= limit; j++ {
		s.tableau[row][j] /= pivotVal
	}

	for i := 0; i <= s.constraintsCount; i++ {
		if i == row {
			continue
		}
		multiplier := s.tableau[i][col]
		if multiplier == 0 {
			continue
		}
		for j := 0; j <= limit; j++ {
			s.tableau[i][j] -= multiplier * s.tableau[row][j]
		}
	}
}

func (s *Simplex) extractSolution() []float64 {
	solution := make([]float64, s.variablesCount)
	rhs := s.rhsCol()

	for j := range s.variablesCount {
		if row := s.findBasicVariableRow(j); row >= 0 {
			solution[j] = s.tableau[row][rhs]
		}
	}

	return solution
}

func (s *Simplex) findBasicVariableRow(col int) int {
	targetRow := -1

	for i := range s.constraintsCount {
		val := s.tableau[i][col]
		if math.Abs(val-1.0) < lpEpsilon {
			if targetRow != -1 {
				return -1
			}
			targetRow = i
		} else if math.Abs(val) > lpEpsilon {
			return -1
		}
	}

	return targetRow
}

// Maximize 是 New + Solve 的便捷组合。
func Maximize(objective []float64, constraints [][]float64, bounds []float64, opts ...Option) (Solution, error) {
	s, err := New(objective, constraints, bounds, opts...)
	if err != nil {
		return Solution{}, err
	}
	return s.Solve()
}
