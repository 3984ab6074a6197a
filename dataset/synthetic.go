// Package dataset 生成多核学习演示与测试使用的合成数据及其基础核。
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wyfcoding/mkl/config"
	"github.com/wyfcoding/mkl/kernel"
	"github.com/wyfcoding/mkl/xerrors"
)

// defaultNoiseDim 是未配置 noise_dim 时噪声特征的维度。
const defaultNoiseDim = 2

// centers 是前三个类别的中心，其余类别均匀分布在半径为 √2 的圆上。
var centers = [][2]float64{{0, 0}, {1, -1}, {-1, 1}}

// Dataset 是二维样本与类别标签，标签从 0 开始连续编号。
type Dataset struct {
	X      *mat.Dense
	Labels []int
}

// Size 返回样本数。
func (d *Dataset) Size() int { return len(d.Labels) }

// NumClasses 返回类别数。
func (d *Dataset) NumClasses() int {
	n := 0
	for _, y := range d.Labels {
		n = max(n, y+1)
	}
	return n
}

func center(c, numClasses int) (float64, float64) {
	if c < len(centers) {
		return centers[c][0], centers[c][1]
	}
	theta := 2 * math.Pi * float64(c) / float64(numClasses)
	return math.Sqrt2 * math.Cos(theta), math.Sqrt2 * math.Sin(theta)
}

// Blobs 按 sizes 为每个类别在其中心附近采样各向同性高斯点，相同 seed 结果相同。
func Blobs(sizes []int, sigma float64, seed uint64) (*Dataset, error) {
	if len(sizes) < 2 {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, nil, "need at least 2 classes, got %d", len(sizes))
	}
	if !(sigma > 0) {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, nil, "sigma must be positive, got %g", sigma)
	}
	total := 0
	for c, n := range sizes {
		if n <= 0 {
			return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, nil, "class %d has size %d", c, n)
		}
		total += n
	}

	normal := distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	x := mat.NewDense(total, 2, nil)
	labels := make([]int, 0, total)
	row := 0
	for c, n := range sizes {
		cx, cy := center(c, len(sizes))
		for range n {
			x.Set(row, 0, cx+normal.Rand())
			x.Set(row, 1, cy+normal.Rand())
			labels = append(labels, c)
			row++
		}
	}
	return &Dataset{X: x, Labels: labels}, nil
}

// Noise 返回与标签无关的 [n x dim] 高斯特征，标准差为 scale。
func Noise(n, dim int, scale float64, seed uint64) *mat.Dense {
	normal := distuv.Normal{Mu: 0, Sigma: scale, Src: rand.NewPCG(seed, ^seed)}
	data := make([]float64, n*dim)
	for i := range data {
		data[i] = normal.Rand()
	}
	return mat.NewDense(n, dim, data)
}

// Generate 按配置生成数据集。
func Generate(cfg config.DatasetConfig) (*Dataset, error) {
	return Blobs(cfg.ClassSizes, cfg.Sigma, cfg.Seed)
}

// BuildKernels 按配置为数据集构造基础核。
// noise 类型使用独立随机特征上的线性核，用于检验权重能否压制无信息的核。
func BuildKernels(d *Dataset, kernels []config.KernelConfig, noiseDim int, seed uint64) ([]*kernel.Custom, error) {
	if len(kernels) == 0 {
		return nil, kernel.ErrNoSubkernels
	}
	if noiseDim <= 0 {
		noiseDim = defaultNoiseDim
	}

	out := make([]*kernel.Custom, 0, len(kernels))
	for i, kc := range kernels {
		var (
			k   *mat.SymDense
			err error
		)
		switch kc.Type {
		case "gaussian":
			k, err = kernel.Gaussian(d.X, kc.Width)
		case "linear":
			k, err = kernel.Linear(d.X)
		case "polynomial":
			k, err = kernel.Polynomial(d.X, kc.Degree, kc.Offset)
		case "noise":
			k, err = kernel.Linear(Noise(d.Size(), noiseDim, 1, seed+uint64(i)+1))
		default:
			err = xerrors.Wrapf(xerrors.ErrInvalidInput, nil, "unknown kernel type %q", kc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("kernel %q: %w", kc.Name, err)
		}

		if kc.Normalize {
			if _, err = kernel.NormalizeVariance(k); err != nil {
				return nil, fmt.Errorf("kernel %q: %w", kc.Name, err)
			}
		}

		custom, err := kernel.NewCustom(kc.Name, k)
		if err != nil {
			return nil, fmt.Errorf("kernel %q: %w", kc.Name, err)
		}
		out = append(out, custom)
	}
	return out, nil
}
