package svm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/wyfcoding/mkl/kernel"
)

// clusters 生成三个相距较远的小簇，每簇 5 个点。
func clusters(t *testing.T) (*kernel.Custom, []int) {
	t.Helper()
	centres := [][2]float64{{0, 0}, {3, -3}, {-3, 3}}
	offsets := [][2]float64{{0, 0}, {0.2, 0.1}, {-0.1, 0.2}, {0.15, -0.2}, {-0.2, -0.1}}

	var data []float64
	var labels []int
	for c, ctr := range centres {
		for _, o := range offsets {
			data = append(data, ctr[0]+o[0], ctr[1]+o[1])
			labels = append(labels, c)
		}
	}
	x := mat.NewDense(len(labels), 2, data)
	k, err := kernel.Gaussian(x, 0)
	require.NoError(t, err)
	ck, err := kernel.NewCustom("rbf", k)
	require.NoError(t, err)
	return ck, labels
}

func TestIndicesSkipOwnClass(t *testing.T) {
	s := &gmnp{y: []int{0, 2, 1}, numClasses: 3}
	want := [][2]int{{0, 1}, {0, 2}, {1, 0}, {1, 1}, {2, 0}, {2, 2}}
	for i, w := range want {
		idx, c := s.indices(i)
		assert.Equal(t, w, [2]int{idx, c}, "virtual %d", i)
	}
}

func TestVirtualColumnMatchesEntries(t *testing.T) {
	k, labels := clusters(t)
	s := newGMNP(k, labels, 3, 0.5, 4)

	for a := 0; a < s.numVirt; a += 3 {
		col := s.column(a)
		for b := range s.numVirt {
			assert.InDelta(t, s.virtualKernel(k, a, b), col[b], 1e-12)
			assert.InDelta(t, s.virtualKernel(k, b, a), col[b], 1e-12)
		}
		assert.InDelta(t, s.diagH[a], col[a], 1e-12)
	}

	// c != y 时对角为 2(K_ii + 1) + regConst
	assert.InDelta(t, 2*(1+1)+0.5, s.diagH[0], 1e-12)
}

func TestColumnCacheFIFO(t *testing.T) {
	k, err := kernel.NewCustom("k", mat.NewSymDense(3, []float64{
		1, 2, 3,
		2, 4, 5,
		3, 5, 6,
	}))
	require.NoError(t, err)

	c := newColumnCache(k, 2)
	assert.Equal(t, []float64{3, 5, 6}, c.column(2))
	c.column(0)
	c.column(2)
	assert.Equal(t, 1, c.hits)
	c.column(1) // 淘汰列 2
	c.column(2)
	assert.Equal(t, 1, c.hits)
	assert.Equal(t, 4, c.miss)
	assert.Len(t, c.slot, 2)
}

func TestSolveReachesRelativeTolerance(t *testing.T) {
	k, labels := clusters(t)
	s := newGMNP(k, labels, 3, 0.5, 8)

	alpha, stats, err := s.solve(nil, 100000, 0, 1e-6, lowerBoundThreshold)
	require.NoError(t, err)
	assert.Equal(t, "rel_tol", stats.Exit)
	assert.InDelta(t, 1, floats.Sum(alpha), 1e-9)
	for _, a := range alpha {
		assert.GreaterOrEqual(t, a, 0.0)
	}
	assert.LessOrEqual(t, stats.UB-stats.LB, stats.UB*1e-6+1e-12)

	// UB 等于 ½ αᵀHα
	var aHa float64
	for i := range alpha {
		for j := range alpha {
			aHa += alpha[i] * alpha[j] * s.virtualKernel(k, i, j)
		}
	}
	assert.InDelta(t, 0.5*aHa, stats.UB, 1e-9)
}

func TestSolveHonoursIterationLimit(t *testing.T) {
	k, labels := clusters(t)
	s := newGMNP(k, labels, 3, 0.5, 8)
	_, stats, err := s.solve(nil, 3, 0, 1e-12, lowerBoundThreshold)
	require.NoError(t, err)
	assert.Equal(t, "max_iter", stats.Exit)
	assert.Equal(t, 3, stats.Iterations)
}

func TestTrainerSeparatesClusters(t *testing.T) {
	k, labels := clusters(t)
	tr, err := NewTrainer(labels, WithC(10), WithEpsilon(1e-5))
	require.NoError(t, err)
	tr.SetKernel(k)
	require.NoError(t, tr.Train(context.Background()))

	assert.Equal(t, 3, tr.NumClasses())
	base := tr.BaseAlphas()
	rows, cols := base.Dims()
	assert.Equal(t, len(labels), rows)
	assert.Equal(t, 3, cols)

	var total float64
	for i, y := range labels {
		assert.Zero(t, base.At(i, y))
		total += floats.Sum(base.RawRowView(i))
	}
	assert.InDelta(t, 1, total, 1e-9)

	var biasSum float64
	for c := range tr.NumClasses() {
		m := tr.Machine(c)
		assert.Equal(t, len(m.Alphas), m.NumSupportVectors())
		biasSum += m.Bias
	}
	assert.InDelta(t, 0, biasSum, 1e-9)

	model, err := tr.Model()
	require.NoError(t, err)
	assert.Zero(t, model.TrainingError(k, labels))
	assert.Equal(t, labels, model.Predict(k))
	assert.Positive(t, tr.Stats().Iterations)
}

func TestModelIsDecoupled(t *testing.T) {
	k, labels := clusters(t)
	tr, err := NewTrainer(labels)
	require.NoError(t, err)
	tr.SetKernel(k)
	require.NoError(t, tr.Train(context.Background()))

	model, err := tr.Model()
	require.NoError(t, err)
	before := model.Machine(0)

	tr.Machine(0).Alphas[0] = 1e9
	got := model.Machine(0)
	assert.Equal(t, before, got)

	got.Alphas[0] = -7
	assert.Equal(t, before, model.Machine(0))
}

func TestTrainerValidation(t *testing.T) {
	_, err := NewTrainer(nil)
	assert.True(t, errors.Is(err, ErrNoLabels))
	_, err = NewTrainer([]int{0, 0})
	assert.True(t, errors.Is(err, ErrTooFewClasses))
	_, err = NewTrainer([]int{0, -1})
	assert.True(t, errors.Is(err, ErrLabelRange))

	tr, err := NewTrainer([]int{0, 1, 1})
	require.NoError(t, err)
	assert.True(t, errors.Is(tr.Train(context.Background()), ErrKernelNotSet))

	_, err = tr.Model()
	assert.True(t, errors.Is(err, ErrNotTrained))

	k, _ := clusters(t)
	tr.SetKernel(k)
	assert.True(t, errors.Is(tr.Train(context.Background()), ErrKernelSize))
}

func TestTrainerRejectsBadParams(t *testing.T) {
	k, labels := clusters(t)
	tr, err := NewTrainer(labels)
	require.NoError(t, err)
	tr.SetKernel(k)
	tr.SetC(0)
	assert.True(t, errors.Is(tr.Train(context.Background()), ErrInvalidParam))
	tr.SetC(1)
	tr.SetEpsilon(0)
	assert.True(t, errors.Is(tr.Train(context.Background()), ErrInvalidParam))
	assert.InDelta(t, 1, tr.C(), 0)
	assert.Equal(t, labels, tr.Labels())
}
