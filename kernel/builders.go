package kernel

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/wyfcoding/mkl/xerrors"
)

func checkRows(x *mat.Dense) (int, error) {
	if x == nil || x.IsEmpty() {
		return 0, ErrEmptyInput
	}
	r, _ := x.Dims()
	return r, nil
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// AutoWidth 估计高斯核宽度：所有 l >= r 样本对平方距离的均值，
// 对角项计入分母，权重为 2/(n(n+1))。
func AutoWidth(x *mat.Dense) (float64, error) {
	n, err := checkRows(x)
	if err != nil {
		return 0, err
	}
	norm := 2.0 / float64(n) / float64(n+1)
	var width float64
	for l := range n {
		rl := x.RawRowView(l)
		for r := 0; r < l; r++ {
			width += squaredDistance(rl, x.RawRowView(r)) * norm
		}
	}
	return width, nil
}

// Gaussian 计算 K(i,j) = exp(-||x_i - x_j||^2 / width)，width <= 0 时使用 AutoWidth。
func Gaussian(x *mat.Dense, width float64) (*mat.SymDense, error) {
	n, err := checkRows(x)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		if width, err = AutoWidth(x); err != nil {
			return nil, err
		}
		if width <= 0 {
			return nil, xerrors.Wrapf(ErrDegenerateNormalization, nil, "all examples coincide, auto width is %g", width)
		}
	}

	k := mat.NewSymDense(n, nil)
	for i := range n {
		ri := x.RawRowView(i)
		for j := i; j < n; j++ {
			k.SetSym(i, j, math.Exp(-squaredDistance(ri, x.RawRowView(j))/width))
		}
	}
	return k, nil
}

// Linear 计算 K = X Xᵀ。
func Linear(x *mat.Dense) (*mat.SymDense, error) {
	if _, err := checkRows(x); err != nil {
		return nil, err
	}
	var k mat.SymDense
	k.SymOuterK(1, x)
	return &k, nil
}

// Polynomial 计算 K(i,j) = (x_i·x_j + offset)^degree。
func Polynomial(x *mat.Dense, degree int, offset float64) (*mat.SymDense, error) {
	n, err := checkRows(x)
	if err != nil {
		return nil, err
	}
	if degree < 1 {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, nil, "polynomial degree %d", degree)
	}
	k := mat.NewSymDense(n, nil)
	for i := range n {
		ri := x.RawRowView(i)
		for j := i; j < n; j++ {
			k.SetSym(i, j, math.Pow(floats.Dot(ri, x.RawRowView(j))+offset, float64(degree)))
		}
	}
	return k, nil
}

// VarianceFactor 返回 mean(diag) - mean(all)，即特征空间中样本到均值的平均平方距离。
func VarianceFactor(k *mat.SymDense) float64 {
	n := k.SymmetricDim()
	diag := make([]float64, n)
	rowMeans := make([]float64, n)
	row := make([]float64, n)
	for i := range n {
		diag[i] = k.At(i, i)
		for j := range n {
			row[j] = k.At(i, j)
		}
		rowMeans[i] = stat.Mean(row, nil)
	}
	return stat.Mean(diag, nil) - stat.Mean(rowMeans, nil)
}

// NormalizeVariance 将核矩阵原地除以自身的 VarianceFactor，并返回该因子。
func NormalizeVariance(k *mat.SymDense) (float64, error) {
	if k == nil || k.SymmetricDim() == 0 {
		return 0, ErrEmptyInput
	}
	f := VarianceFactor(k)
	if !(f > 0) || math.IsInf(f, 0) {
		return f, xerrors.Wrapf(ErrDegenerateNormalization, nil, "variance factor %g", f)
	}
	k.ScaleSym(1/f, k)
	return f, nil
}
