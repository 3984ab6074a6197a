// mkltrain 在合成的三类数据上训练多核 SVM，输出训练误差与子核权重。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wyfcoding/mkl/bootstrap"
	"github.com/wyfcoding/mkl/config"
	"github.com/wyfcoding/mkl/dataset"
	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/logging"
	"github.com/wyfcoding/mkl/mkl"
	"github.com/wyfcoding/mkl/svm"
	"github.com/wyfcoding/mkl/xerrors"
)

const serviceName = "mkltrain"

var version = "dev"

func main() {
	b := bootstrap.New(serviceName, version)
	if err := b.Initialize(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	b.SetupTracing(b.Config.Tracing)
	m := b.SetupMetrics(b.Config.Metrics)

	err := run(context.Background(), b.Config, mkl.NewCollectors(m))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.Shutdown(shutdownCtx)

	if err != nil {
		b.Logger.Error("training failed", "error", err, "type", xerrors.TypeOf(err).String())
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, collectors *mkl.Collectors) error {
	data, err := dataset.Generate(cfg.Dataset)
	if err != nil {
		return err
	}
	subs, err := dataset.BuildKernels(data, cfg.Dataset.Kernels, cfg.Dataset.NoiseDim, cfg.Dataset.Seed)
	if err != nil {
		return err
	}
	combined, err := kernel.NewCombined(subs...)
	if err != nil {
		return err
	}

	logger := logging.Default().Logger
	trainer, err := svm.NewTrainer(data.Labels,
		svm.WithC(cfg.SVM.C),
		svm.WithEpsilon(cfg.SVM.Epsilon),
		svm.WithMaxIterations(cfg.SVM.MaxIterations),
		svm.WithCacheColumns(cfg.SVM.CacheColumns),
		svm.WithLogger(logger.With("component", "svm")),
	)
	if err != nil {
		return err
	}

	opts := append(mkl.OptionsFromConfig(cfg.MKL, cfg.SVM),
		mkl.WithLogger(logger.With("component", "mkl")),
		mkl.WithCollectors(collectors),
	)
	optimizer := mkl.NewOptimizer(combined, trainer, opts...)

	done := logging.LogDuration(ctx, "mkl training", "examples", data.Size(), "subkernels", len(subs))
	res, err := optimizer.Train(ctx)
	if err != nil {
		return err
	}
	done()

	trainErr := res.Model.TrainingError(combined, data.Labels)
	baseline := 1 - 1/float64(data.NumClasses())

	fmt.Printf("state:          %s\n", res.State)
	fmt.Printf("svm trainings:  %d\n", res.Iterations)
	fmt.Printf("training error: %.4f (random guess %.4f)\n", trainErr, baseline)
	if res.TraceID != "" {
		fmt.Printf("trace id:       %s\n", res.TraceID)
	}
	for k, sub := range subs {
		fmt.Printf("weight %-8s %.6f\n", sub.Name(), res.Weights[k])
	}
	if trainErr >= baseline {
		logging.Warn(ctx, "training error is not below the random guess baseline",
			"error", trainErr, "baseline", baseline)
	}
	return nil
}
