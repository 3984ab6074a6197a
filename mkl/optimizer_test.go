package mkl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/wyfcoding/mkl/config"
	"github.com/wyfcoding/mkl/dataset"
	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/metrics"
	"github.com/wyfcoding/mkl/svm"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func problem(t *testing.T, sizes []int, sigma float64, kernels ...config.KernelConfig) (*kernel.Combined, *svm.Trainer, *dataset.Dataset) {
	t.Helper()
	d, err := dataset.Blobs(sizes, sigma, 5)
	require.NoError(t, err)
	subs, err := dataset.BuildKernels(d, kernels, 0, 5)
	require.NoError(t, err)
	combined, err := kernel.NewCombined(subs...)
	require.NoError(t, err)
	tr, err := svm.NewTrainer(d.Labels, svm.WithLogger(quiet))
	require.NoError(t, err)
	return combined, tr, d
}

var (
	rbf    = config.KernelConfig{Name: "rbf", Type: "gaussian", Normalize: true}
	linear = config.KernelConfig{Name: "linear", Type: "linear", Normalize: true}
)

// fakeTrainer 返回固定的对偶解，trainErr 非空时训练失败。
type fakeTrainer struct {
	labels   []int
	machines []svm.Machine
	base     *mat.Dense
	trainErr error
	trains   int
	c, eps   float64
}

func (f *fakeTrainer) SetKernel(kernel.Matrix) {}
func (f *fakeTrainer) SetC(c float64) { f.c = c }
func (f *fakeTrainer) SetEpsilon(eps float64) { f.eps = eps }
func (f *fakeTrainer) NumClasses() int { return len(f.machines) }
func (f *fakeTrainer) Machine(c int) svm.Machine { return f.machines[c] }
func (f *fakeTrainer) BaseAlphas() *mat.Dense { return f.base }
func (f *fakeTrainer) Labels() []int { return f.labels }

func (f *fakeTrainer) Train(context.Context) error {
	f.trains++
	return f.trainErr
}

func identityKernels(t *testing.T, n, k int) *kernel.Combined {
	t.Helper()
	subs := make([]*kernel.Custom, k)
	for i := range k {
		m := mat.NewSymDense(n, nil)
		for j := range n {
			m.SetSym(j, j, float64(i+1))
		}
		c, err := kernel.NewCustom("", m)
		require.NoError(t, err)
		subs[i] = c
	}
	combined, err := kernel.NewCombined(subs...)
	require.NoError(t, err)
	return combined
}

func TestValidation(t *testing.T) {
	combined := identityKernels(t, 4, 2)
	ft := &fakeTrainer{labels: []int{0, 1, 0, 1}}
	ctx := context.Background()

	_, err := NewOptimizer(nil, ft).Train(ctx)
	assert.True(t, errors.Is(err, ErrKernelNotSet))

	_, err = NewOptimizer(combined, nil).Train(ctx)
	assert.True(t, errors.Is(err, ErrTrainerNotSet))

	_, err = NewOptimizer(combined, &fakeTrainer{}, WithLogger(quiet)).Train(ctx)
	assert.True(t, errors.Is(err, ErrMissingLabels))

	_, err = NewOptimizer(combined, &fakeTrainer{labels: []int{0, 1}}, WithLogger(quiet)).Train(ctx)
	assert.True(t, errors.Is(err, ErrLabelMismatch))

	_, err = NewOptimizer(combined, ft, WithNorm(0.5), WithLogger(quiet)).Train(ctx)
	assert.True(t, errors.Is(err, ErrInvalidNorm))

	_, err = NewOptimizer(combined, ft, WithEpsilon(0), WithLogger(quiet)).Train(ctx)
	assert.True(t, errors.Is(err, ErrInvalidOption))

	_, err = NewOptimizer(combined, ft, WithC(-1), WithLogger(quiet)).Train(ctx)
	assert.True(t, errors.Is(err, ErrInvalidOption))

	assert.Zero(t, ft.trains)
}

func TestRetrainFailureIsFatal(t *testing.T) {
	m := metrics.NewMetrics("mkl-test")
	col := NewCollectors(m)
	cause := errors.New("ill conditioned")
	ft := &fakeTrainer{labels: []int{0, 1, 0, 1}, trainErr: cause}

	o := NewOptimizer(identityKernels(t, 4, 2), ft, WithLogger(quiet), WithCollectors(col))
	res, err := o.Train(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrRetrain))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 1, ft.trains)
	assert.InDelta(t, 1, testutil.ToFloat64(col.runs.WithLabelValues("failed")), 1e-12)
}

func TestBadBaseAlphasAreFatal(t *testing.T) {
	ft := &fakeTrainer{
		labels:   []int{0, 1, 0, 1},
		machines: []svm.Machine{{}, {}},
		base:     mat.NewDense(3, 2, nil),
	}
	_, err := NewOptimizer(identityKernels(t, 4, 2), ft, WithLogger(quiet)).Train(context.Background())
	assert.True(t, errors.Is(err, ErrRetrain))
}

func TestAddingWeightsStepQuantities(t *testing.T) {
	// 两类四个样本，子核 k 为 (k+1)·I。
	ft := &fakeTrainer{
		labels: []int{0, 1, 0, 1},
		machines: []svm.Machine{
			{Alphas: []float64{0.5, -0.25}, SupportVectors: []int{0, 1}, Bias: 0.2},
			{Alphas: []float64{1}, SupportVectors: []int{3}, Bias: -0.2},
		},
		base: mat.NewDense(4, 2, []float64{
			0, 0.1,
			0.3, 0,
			0, 0,
			0.2, 0,
		}),
	}
	o := NewOptimizer(identityKernels(t, 4, 2), ft, WithLogger(quiet), WithC(2), WithSVMEpsilon(1e-4), WithWorkers(2))
	require.NoError(t, o.setup(context.Background()))
	require.NoError(t, o.addingWeightsStep(context.Background(), []float64{0.5, 0.5}))

	// Σα² = 0.25 + 0.0625 + 1
	assert.InDeltaSlice(t, []float64{1.3125, 2.625}, o.normw2, 1e-12)

	// b² 之和 0.08；样本 0 (y=0, nc=1): -0.1·(0.2+0.2-1)=0.06；
	// 样本 1 (y=1, nc=0): -0.3·(-0.2-0.2-1)=0.42；样本 3: -0.2·(-1.4)=0.28
	sum, err := o.signFreeAlphaSum()
	require.NoError(t, err)
	assert.InDelta(t, 0.08+0.06+0.42+0.28, sum, 1e-12)

	assert.Equal(t, 1, o.solver.NumConstraints())
	assert.Equal(t, 1, o.steps)
	assert.InDelta(t, 2, ft.c, 1e-12)
	assert.InDelta(t, 1e-4, ft.eps, 1e-12)
	assert.Equal(t, []string{"0", "1"}, o.names)
}

func TestSingleSubkernelConvergesImmediately(t *testing.T) {
	combined, tr, _ := problem(t, []int{6, 6, 6}, 0.3, rbf)

	o := NewOptimizer(combined, tr, WithLogger(quiet))
	res, err := o.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConverged, res.State)
	assert.Equal(t, StateConverged, o.State())
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []float64{1}, res.Weights)
	assert.Equal(t, []float64{1}, res.TrainedWeights)
	assert.Equal(t, []float64{1}, o.SubkernelWeights())
	assert.True(t, res.Criterion.Finished)
	assert.Empty(t, res.TraceID)
}

func TestFailedTrainResetsState(t *testing.T) {
	combined, tr, d := problem(t, []int{6, 6, 6}, 0.3, rbf)

	o := NewOptimizer(combined, tr, WithLogger(quiet))
	_, err := o.Train(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateConverged, o.State())
	require.NotEmpty(t, o.SubkernelWeights())

	o.trainer = &fakeTrainer{labels: d.Labels, trainErr: errors.New("out of memory")}
	_, err = o.Train(context.Background())
	require.True(t, errors.Is(err, ErrRetrain))
	assert.Equal(t, StateUninitialized, o.State())
	assert.Empty(t, o.SubkernelWeights())
	assert.Nil(t, o.solver)
}

func TestMaxIterationsOneStopsAfterOneStep(t *testing.T) {
	combined, tr, _ := problem(t, []int{6, 7, 8}, 0.3, rbf, linear)
	m := metrics.NewMetrics("mkl-test")
	col := NewCollectors(m)

	o := NewOptimizer(combined, tr, WithLogger(quiet), WithMaxIterations(1), WithCollectors(col))
	res, err := o.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateMaxItersReached, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, res.TrainedWeights, 1e-12)
	assert.InDelta(t, 1, floats.Sum(res.Weights), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(col.iterations.WithLabelValues()), 1e-12)
	assert.InDelta(t, 1, testutil.ToFloat64(col.runs.WithLabelValues("max_iters_reached")), 1e-12)
	assert.InDelta(t, res.Weights[0], testutil.ToFloat64(col.weights.WithLabelValues("rbf")), 1e-12)
	assert.Nil(t, o.solver)
	assert.Nil(t, o.history)
}

func TestNoiseKernelIsSuppressed(t *testing.T) {
	d, err := dataset.Blobs([]int{15, 15, 15}, 0.15, 21)
	require.NoError(t, err)

	g, err := kernel.Gaussian(d.X, 0)
	require.NoError(t, err)
	rbfKernel, err := kernel.NewCustom("rbf", g)
	require.NoError(t, err)
	lin, err := kernel.Linear(dataset.Noise(d.Size(), 2, 0.02, 99))
	require.NoError(t, err)
	noise, err := kernel.NewCustom("noise", lin)
	require.NoError(t, err)

	combined, err := kernel.NewCombined(rbfKernel, noise)
	require.NoError(t, err)
	tr, err := svm.NewTrainer(d.Labels, svm.WithLogger(quiet))
	require.NoError(t, err)

	res, err := NewOptimizer(combined, tr, WithLogger(quiet), WithMaxIterations(20)).Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConverged, res.State)
	assert.Greater(t, res.Weights[0], 0.95)
	assert.Less(t, res.Weights[1], 0.05)
	assert.Less(t, res.Model.TrainingError(combined, d.Labels), 0.05)
}

func TestLpNormKeepsUnitNorm(t *testing.T) {
	combined, tr, _ := problem(t, []int{8, 8, 8}, 0.4, rbf, linear)

	res, err := NewOptimizer(combined, tr, WithLogger(quiet), WithNorm(2), WithMaxIterations(6)).Train(context.Background())
	require.NoError(t, err)

	for _, w := range res.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
	}
	assert.InDelta(t, 1, floats.Norm(res.Weights, 2), 1e-9)
	assert.LessOrEqual(t, res.Iterations, 6)
	assert.Contains(t, []State{StateConverged, StateMaxItersReached}, res.State)
}

func TestTrainRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	combined, tr, _ := problem(t, []int{5, 5, 5}, 0.3, rbf, linear)
	res, err := NewOptimizer(combined, tr, WithLogger(quiet), WithMaxIterations(3)).Train(context.Background())
	require.NoError(t, err)

	var train, steps int
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "mkl.Train":
			train++
			assert.Equal(t, s.SpanContext().TraceID().String(), res.TraceID)
		case "mkl.AddingWeights":
			steps++
			assert.Equal(t, "mkl.Train", parentName(rec, s.Parent().SpanID().String()))
		}
	}
	assert.Equal(t, 1, train)
	assert.Equal(t, res.Iterations, steps)
}

func parentName(rec *tracetest.SpanRecorder, id string) string {
	for _, s := range rec.Ended() {
		if s.SpanContext().SpanID().String() == id {
			return s.Name()
		}
	}
	return ""
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "solver_ready", StateSolverReady.String())
	assert.Equal(t, "iterating", StateIterating.String())
	assert.Equal(t, "converged", StateConverged.String())
	assert.Equal(t, "max_iters_reached", StateMaxItersReached.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MKL.Workers = 3
	cfg.MKL.Norm = 1.5
	cfg.MKL.LPMaxPivots = 0

	o := defaultOptions()
	for _, opt := range OptionsFromConfig(cfg.MKL, cfg.SVM) {
		opt(&o)
	}
	assert.InDelta(t, 0.01, o.epsilon, 1e-12)
	assert.Equal(t, 999, o.maxIterations)
	assert.InDelta(t, 1.5, o.norm, 1e-12)
	assert.InDelta(t, 1, o.c, 1e-12)
	assert.Equal(t, 3, o.workers)
	assert.Equal(t, defaultMaxPivots, o.maxPivots)
	assert.Equal(t, 5000, o.maxSteps)
}

// 参考场景：三类 210/240/270 个样本，RBF 与线性两个基础核。
func TestEndToEndThreeBlobs(t *testing.T) {
	if testing.Short() {
		t.Skip("full size scenario")
	}
	combined, tr, d := problem(t, []int{210, 240, 270}, 0.3, rbf, linear)

	res, err := NewOptimizer(combined, tr,
		WithLogger(quiet),
		WithC(1),
		WithEpsilon(0.01),
		WithMaxIterations(120),
	).Train(context.Background())
	require.NoError(t, err)

	errRate := res.Model.TrainingError(combined, d.Labels)
	assert.Less(t, errRate, 0.1)
	assert.Less(t, errRate, 2.0/3)
	assert.InDelta(t, 1, floats.Sum(res.Weights), 1e-9)
	for _, w := range res.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
	}
	assert.Equal(t, 3, res.Model.NumClasses())
}
