package kernel

import "github.com/wyfcoding/mkl/xerrors"

var (
	// ErrNoSubkernels 组合核中没有子核。
	ErrNoSubkernels = xerrors.New(xerrors.ErrInvalidArg, 410001, "no subkernels", "a combined kernel needs at least one subkernel", nil)
	// ErrSizeMismatch 核矩阵尺寸不一致。
	ErrSizeMismatch = xerrors.New(xerrors.ErrInvalidArg, 410002, "kernel size mismatch", "all kernel matrices must have the same number of examples", nil)
	// ErrWeightCount 权重个数与子核个数不符。
	ErrWeightCount = xerrors.New(xerrors.ErrInvalidArg, 410003, "weight count mismatch", "one weight per subkernel is required", nil)
	// ErrNegativeWeight 子核权重为负或非有限值。
	ErrNegativeWeight = xerrors.New(xerrors.ErrInvalidArg, 410004, "invalid subkernel weight", "subkernel weights must be finite and non-negative", nil)
	// ErrDegenerateNormalization 核的方差估计不为正，无法归一化。
	ErrDegenerateNormalization = xerrors.New(xerrors.ErrInvalidArg, 410005, "degenerate kernel normalization", "mean(diag) - mean(all) must be positive", nil)
	// ErrEmptyInput 特征矩阵为空。
	ErrEmptyInput = xerrors.New(xerrors.ErrInvalidArg, 410006, "empty input", "feature matrix has no rows", nil)
)
