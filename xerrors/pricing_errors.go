package xerrors

var (
	// ErrInvalidGridSize 网格尺寸必须至少为 1。
	ErrInvalidGridSize = New(ErrInvalidArg, 400101, "invalid grid size", "grid size must be at least 1", nil)
	// ErrInvertedRange 坐标轴下界大于上界。
	ErrInvertedRange = New(ErrInvalidArg, 400102, "inverted axis range", "axis min must not exceed max", nil)
	// ErrGridSizeOutOfRange 网格尺寸超出配置的滑块范围。
	ErrGridSizeOutOfRange = New(ErrInvalidArg, 400103, "grid size out of range", "grid size must stay within the configured bounds", nil)
	// ErrInvalidBounds 扫描边界表达式无法编译或求值。
	ErrInvalidBounds = New(ErrInvalidArg, 400104, "invalid sweep bounds", "bounds expressions must evaluate to numbers", nil)
	// ErrRateLimited 请求被限流。
	ErrRateLimited = New(ErrLimitExceeded, 429001, "too many requests", "access rate limit exceeded", nil)
)

// ErrBadRequest 请求体无法解析或未通过校验。
var ErrBadRequest = New(ErrInvalidArg, 400100, "invalid request", "request body failed to bind", nil)
