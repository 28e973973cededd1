package contract

import "errors"

// 最小错误分类（用于上层策略判定与退出码/日志归类）。
var (
	// ErrUnterminatedPage: 起始标记之后直到缓冲区末尾都没有结束标记（FormatError）。
	ErrUnterminatedPage = errors.New("unterminated page")
	// ErrEmptyDocument: 文档中没有任何页。
	ErrEmptyDocument = errors.New("document has no pages")
	// ErrSizeMismatch: 目标缓冲区长度与源不一致。
	ErrSizeMismatch = errors.New("destination size mismatch")
	// ErrVerifyFailed: 写后复核未通过（长度/边界/页集合/顺序）。
	ErrVerifyFailed = errors.New("verify failed")
	// ErrPathInvalid: 目标路径无效（例如非原子写且与源为同一文件）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 参数/选项非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
