// Package kernel 提供预计算核矩阵及其加权组合。
//
// Custom 持有一个对称核矩阵；Combined 持有若干同尺寸子核，
// 在设置权重时物化加权和，供 SVM 训练按下标读取。
package kernel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/wyfcoding/mkl/xerrors"
)

// Matrix 是按样本下标访问的核。
type Matrix interface {
	// Size 返回样本个数。
	Size() int
	// Evaluate 返回 K(i, j)。
	Evaluate(i, j int) float64
}

// Custom 是一个预计算的对称核矩阵。
type Custom struct {
	name string
	m    *mat.SymDense
}

// NewCustom 包装一个对称核矩阵，矩阵不会被复制。
func NewCustom(name string, m *mat.SymDense) (*Custom, error) {
	if m == nil || m.SymmetricDim() == 0 {
		return nil, xerrors.Wrapf(ErrEmptyInput, nil, "kernel %q", name)
	}
	return &Custom{name: name, m: m}, nil
}

// Name 返回子核名称，可能为空。
func (c *Custom) Name() string { return c.name }

// Size 返回样本数。
func (c *Custom) Size() int { return c.m.SymmetricDim() }

// Evaluate 返回 K(i, j)。
func (c *Custom) Evaluate(i, j int) float64 { return c.m.At(i, j) }

// Matrix 返回底层矩阵。
func (c *Custom) Matrix() *mat.SymDense { return c.m }

// Combined 是子核的加权和 Σ_k w_k K_k。
type Combined struct {
	subs     []*Custom
	weights  []float64
	combined *mat.SymDense
}

// NewCombined 创建组合核，初始权重为均匀分布。
func NewCombined(subs ...*Custom) (*Combined, error) {
	if len(subs) == 0 {
		return nil, ErrNoSubkernels
	}
	n := subs[0].Size()
	for k, s := range subs {
		if s.Size() != n {
			return nil, xerrors.Wrapf(ErrSizeMismatch, nil, "subkernel %d (%s) has %d examples, want %d", k, s.Name(), s.Size(), n)
		}
	}

	c := &Combined{
		subs:     subs,
		weights:  make([]float64, len(subs)),
		combined: mat.NewSymDense(n, nil),
	}
	uniform := make([]float64, len(subs))
	for k := range uniform {
		uniform[k] = 1 / float64(len(subs))
	}
	if err := c.SetSubkernelWeights(uniform); err != nil {
		return nil, err
	}
	return c, nil
}

// NumSubkernels 返回子核个数。
func (c *Combined) NumSubkernels() int { return len(c.subs) }

// SetSubkernelWeights 设置子核权重并重新物化组合矩阵。
func (c *Combined) SetSubkernelWeights(w []float64) error {
	if len(w) != len(c.subs) {
		return xerrors.Wrapf(ErrWeightCount, nil, "got %d weights for %d subkernels", len(w), len(c.subs))
	}
	for k, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return xerrors.Wrapf(ErrNegativeWeight, nil, "weight %d is %g", k, v)
		}
	}

	n := c.combined.SymmetricDim()
	for i := range n {
		for j := i; j < n; j++ {
			var v float64
			for k, s := range c.subs {
				if w[k] != 0 {
					v += w[k] * s.m.At(i, j)
				}
			}
			c.combined.SetSym(i, j, v)
		}
	}
	copy(c.weights, w)
	return nil
}

// SubkernelWeights 返回当前权重的副本。
func (c *Combined) SubkernelWeights() []float64 {
	out := make([]float64, len(c.weights))
	copy(out, c.weights)
	return out
}

// Subkernel 返回第 k 个子核。
func (c *Combined) Subkernel(k int) Matrix { return c.subs[k] }

// Size 返回样本数。
func (c *Combined) Size() int { return c.combined.SymmetricDim() }

// Evaluate 返回按当前权重组合后的核值。
func (c *Combined) Evaluate(i, j int) float64 { return c.combined.At(i, j) }
