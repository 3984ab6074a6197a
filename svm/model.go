package svm

import (
	"gonum.org/v1/gonum/floats"

	"github.com/wyfcoding/mkl/kernel"
)

// MulticlassModel 是与训练器解耦的多分类模型。
type MulticlassModel struct {
	machines []Machine
}

// NewMulticlassModel 深拷贝各类别的判别函数。
func NewMulticlassModel(machines []Machine) *MulticlassModel {
	m := &MulticlassModel{machines: make([]Machine, len(machines))}
	for i, mc := range machines {
		m.machines[i] = mc.clone()
	}
	return m
}

func (m *MulticlassModel) NumClasses() int { return len(m.machines) }

// Machine 返回第 c 类判别函数的副本。
func (m *MulticlassModel) Machine(c int) Machine { return m.machines[c].clone() }

// Scores 返回样本在各类别上的判别值，eval(j) 应返回 K(x_j, x)。
func (m *MulticlassModel) Scores(eval func(sv int) float64) []float64 {
	scores := make([]float64, len(m.machines))
	for c, mc := range m.machines {
		s := mc.Bias
		for i, sv := range mc.SupportVectors {
			s += mc.Alphas[i] * eval(sv)
		}
		scores[c] = s
	}
	return scores
}

// Classify 返回判别值最大的类别。
func (m *MulticlassModel) Classify(eval func(sv int) float64) int {
	return floats.MaxIdx(m.Scores(eval))
}

// Predict 对训练集上的每个样本分类，k 为训练时使用的核。
func (m *MulticlassModel) Predict(k kernel.Matrix) []int {
	out := make([]int, k.Size())
	for i := range out {
		out[i] = m.Classify(func(sv int) float64 { return k.Evaluate(sv, i) })
	}
	return out
}

// TrainingError 返回训练集上的错分率。
func (m *MulticlassModel) TrainingError(k kernel.Matrix, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	pred := m.Predict(k)
	wrong := 0
	for i, y := range labels {
		if pred[i] != y {
			wrong++
		}
	}
	return float64(wrong) / float64(len(labels))
}
