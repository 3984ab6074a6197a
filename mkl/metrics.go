package mkl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wyfcoding/mkl/metrics"
)

// Collectors 是训练过程的 Prometheus 指标，nil 接收者上的方法均为空操作。
type Collectors struct {
	runs       *prometheus.CounterVec
	iterations *prometheus.CounterVec
	retrain    *prometheus.HistogramVec
	criterion  *prometheus.GaugeVec
	weights    *prometheus.GaugeVec
	budget     *prometheus.CounterVec
}

// NewCollectors 在给定注册表上注册训练指标。
func NewCollectors(m *metrics.Metrics) *Collectors {
	return &Collectors{
		runs: m.NewCounterVec(prometheus.CounterOpts{
			Name: "mkl_train_runs_total",
			Help: "Finished MKL training runs by terminal status",
		}, []string{"status"}),
		iterations: m.NewCounterVec(prometheus.CounterOpts{
			Name: "mkl_silp_iterations_total",
			Help: "Adding weights steps performed",
		}, nil),
		retrain: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mkl_svm_retrain_seconds",
			Help:    "Duration of one inner SVM retraining",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, nil),
		criterion: m.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mkl_finish_criterion",
			Help: "Last value compared against mkl epsilon",
		}, nil),
		weights: m.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mkl_subkernel_weight",
			Help: "Current subkernel weights",
		}, []string{"kernel"}),
		budget: m.NewCounterVec(prometheus.CounterOpts{
			Name: "mkl_solver_budget_exhausted_total",
			Help: "Cutting plane solves that hit their iteration budget",
		}, nil),
	}
}

func (c *Collectors) observeRun(status string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(status).Inc()
}

func (c *Collectors) observeStep(d time.Duration) {
	if c == nil {
		return
	}
	c.iterations.WithLabelValues().Inc()
	c.retrain.WithLabelValues().Observe(d.Seconds())
}

func (c *Collectors) observeCriterion(v float64) {
	if c == nil {
		return
	}
	c.criterion.WithLabelValues().Set(v)
}

func (c *Collectors) observeWeights(names []string, w []float64) {
	if c == nil {
		return
	}
	for k, v := range w {
		c.weights.WithLabelValues(names[k]).Set(v)
	}
}

func (c *Collectors) observeBudget() {
	if c == nil {
		return
	}
	c.budget.WithLabelValues().Inc()
}
