package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"pagesort/pkg/contract"
)

// Options: 预留占位，线性拼接无需配置。
type Options struct{}

type writer struct{}

// New 从原样 JSON Options 创建线性 Writer；无可配置项，未知字段报错。
func New(raw json.RawMessage) (contract.Writer, error) {
	if len(raw) > 0 {
		var opts Options
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("%w: writer options: %v", contract.ErrInvalidInput, err)
		}
	}
	return &writer{}, nil
}

// Write 依次拷贝 前导、各页（按 layout.Pages 当前顺序）、尾随 到 dst。
// 不插入任何分隔符；写前校验长度与区间不变量，写后校验游标恰好到达末尾。
func (w *writer) Write(ctx context.Context, dst, src []byte, layout contract.Layout) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(dst) != len(src) {
		return fmt.Errorf("%w: dst=%d src=%d", contract.ErrSizeMismatch, len(dst), len(src))
	}
	if layout.Size != len(src) {
		return fmt.Errorf("%w: layout size %d, source %d", contract.ErrInvariantViolation, layout.Size, len(src))
	}
	if err := layout.Validate(); err != nil {
		return err
	}

	n := copy(dst, layout.Preamble.Bytes(src))
	for _, p := range layout.Pages {
		n += copy(dst[n:], p.Bytes(src))
	}
	n += copy(dst[n:], layout.Trailer.Bytes(src))
	if n != len(dst) {
		return fmt.Errorf("%w: wrote %d of %d bytes", contract.ErrInvariantViolation, n, len(dst))
	}
	return nil
}

var _ contract.Writer = (*writer)(nil)
