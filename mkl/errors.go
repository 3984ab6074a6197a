package mkl

import "github.com/wyfcoding/mkl/xerrors"

// 配置类错误在训练开始前返回，不会重试。
var (
	ErrKernelNotSet  = xerrors.New(xerrors.ErrInvalidArg, 430001, "kernel not set", "a combined kernel is required", nil)
	ErrTrainerNotSet = xerrors.New(xerrors.ErrInvalidArg, 430002, "trainer not set", "a multiclass SVM trainer is required", nil)
	ErrNoSubkernels  = xerrors.New(xerrors.ErrInvalidArg, 430003, "no subkernels", "the combined kernel must have at least one subkernel", nil)
	ErrInvalidNorm   = xerrors.New(xerrors.ErrInvalidArg, 430004, "invalid mkl norm", "mkl norm must be >= 1", nil)
	ErrMissingLabels = xerrors.New(xerrors.ErrInvalidArg, 430005, "missing labels", "the trainer has no training labels", nil)
	ErrLabelMismatch = xerrors.New(xerrors.ErrInvalidArg, 430006, "label count mismatch", "one label per kernel example is required", nil)
	ErrInvalidOption = xerrors.New(xerrors.ErrInvalidArg, 430007, "invalid option", "check the optimizer options", nil)
	ErrConstraintDim = xerrors.New(xerrors.ErrInvalidArg, 430008, "constraint dimension mismatch", "one coefficient per subkernel is required", nil)
)

// 求解类错误。
var (
	// ErrNoConstraints 在没有任何切平面时求权重。
	ErrNoConstraints = xerrors.New(xerrors.ErrInternal, 530001, "no constraints", "add at least one constraint before computing weights", nil)
	// ErrSolverInfeasible 切平面子问题无可行解或无界，致命。
	ErrSolverInfeasible = xerrors.New(xerrors.ErrInfeasible, 530002, "cutting plane subproblem infeasible", "the weight subproblem has no finite optimum", nil)
	// ErrSolverBudget 内层求解器预算耗尽，返回的是最后一个可行点，外层循环可以继续。
	ErrSolverBudget = xerrors.New(xerrors.ErrNotConverged, 530003, "cutting plane budget exhausted", "using the last feasible point", nil)
	// ErrRetrain SVM 重新训练失败，致命。
	ErrRetrain = xerrors.New(xerrors.ErrInternal, 530004, "svm retraining failed", "the inner trainer returned an error", nil)
)
