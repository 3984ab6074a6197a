package xerrors

var (
	// ErrEmptyData 输入数据为空。
	ErrEmptyData = New(ErrInvalidArg, 400001, "empty data", "input data must not be empty", nil)
	// ErrInvalidInput 输入格式错误。
	ErrInvalidInput = New(ErrInvalidArg, 400002, "invalid input", "check your input parameters", nil)
	// ErrDimMismatch 维度不匹配.
	ErrDimMismatch = New(ErrInvalidArg, 400007, "dimension mismatch", "matrix or vector dimensions do not match", nil)
	// ErrNotSquare 不是方阵.
	ErrNotSquare = New(ErrInvalidArg, 400008, "matrix must be square", "input matrix is not square", nil)
	// ErrDimMismatchBounds 线性规划维度不匹配。
	ErrDimMismatchBounds = New(ErrInvalidArg, 400015, "dimension mismatch bounds", "constraints and objective function dimensions do not match", nil)
	// ErrNegativeBound 单纯形法要求右端项非负。
	ErrNegativeBound = New(ErrInvalidArg, 400019, "negative bound", "simplex tableau requires non-negative right-hand sides", nil)
	// ErrMathConvergence 数学计算未收敛。
	ErrMathConvergence = New(ErrNotConverged, 500002, "math convergence failed", "algorithm failed to converge", nil)
	// ErrUnboundedProblem 线性规划无界。
	ErrUnboundedProblem = New(ErrInfeasible, 500005, "unbounded problem", "linear programming problem is unbounded", nil)
)
