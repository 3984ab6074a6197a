package svm

import "github.com/wyfcoding/mkl/xerrors"

var (
	// ErrNoLabels 未提供训练标签。
	ErrNoLabels = xerrors.New(xerrors.ErrInvalidArg, 420001, "no labels", "training labels must not be empty", nil)
	// ErrTooFewClasses 多分类至少需要两个类别。
	ErrTooFewClasses = xerrors.New(xerrors.ErrInvalidArg, 420002, "too few classes", "multiclass training needs at least two classes", nil)
	// ErrLabelRange 标签必须是从 0 开始的类别下标。
	ErrLabelRange = xerrors.New(xerrors.ErrInvalidArg, 420003, "label out of range", "labels must be non-negative class indices", nil)
	// ErrKernelNotSet 训练前未设置核。
	ErrKernelNotSet = xerrors.New(xerrors.ErrInvalidArg, 420004, "kernel not set", "call SetKernel before Train", nil)
	// ErrKernelSize 核尺寸与标签个数不符。
	ErrKernelSize = xerrors.New(xerrors.ErrInvalidArg, 420005, "kernel size mismatch", "kernel size must equal the number of labels", nil)
	// ErrInvalidParam 正则化参数或精度非法。
	ErrInvalidParam = xerrors.New(xerrors.ErrInvalidArg, 420006, "invalid parameter", "C and epsilon must be positive", nil)
	// ErrNumeric 求解过程中出现 NaN 或 Inf。
	ErrNumeric = xerrors.New(xerrors.ErrInternal, 520001, "numeric failure", "the QP solver produced a non-finite bound", nil)
	// ErrNotTrained 模型尚未训练。
	ErrNotTrained = xerrors.New(xerrors.ErrInternal, 520002, "not trained", "call Train before reading the solution", nil)
)
