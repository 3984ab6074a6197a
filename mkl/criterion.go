package mkl

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FinishConfig 是收敛判定所需的参数。
type FinishConfig struct {
	Epsilon       float64
	MaxIterations int
	Norm          float64
}

// Finish 是一次收敛判定的结果。
type Finish struct {
	Finished             bool
	MaxIterationsReached bool
	WeightDelta          float64 // 最近两组权重的欧氏距离
	Gap                  float64 // L1 模式下的对偶间隙代理，Lp 模式下为 NaN
	Value                float64 // 与 Epsilon 比较的量
}

// EvaluateFinish 判断外层循环是否结束，是输入的纯函数。
//
// history 是权重历史，最后一项为最新权重；normw2 是最近一次的逐核二次型；
// iterations 是已完成的外层迭代数。
func EvaluateFinish(history [][]float64, normw2 []float64, iterations int, cfg FinishConfig) Finish {
	res := Finish{Gap: math.NaN(), Value: math.NaN(), WeightDelta: math.NaN()}

	if cfg.MaxIterations > 0 && iterations >= cfg.MaxIterations {
		res.Finished = true
		res.MaxIterationsReached = true
		return res
	}
	if len(history) < 2 {
		return res
	}

	wold := history[len(history)-2]
	wnew := history[len(history)-1]
	res.WeightDelta = floats.Distance(wold, wnew, 2)

	if cfg.Norm <= 1 && len(normw2) == len(wnew) && len(normw2) > 0 {
		maxval := floats.Max(normw2)
		res.Gap = math.Abs(floats.Dot(normw2, wnew) - maxval)
		res.Value = res.Gap
	} else {
		res.Value = res.WeightDelta
	}

	res.Finished = res.Value < cfg.Epsilon && iterations >= 1
	return res
}
