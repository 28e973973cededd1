package contract

import "fmt"

// Validate 校验 Layout 的区间不变量（纯函数，无 I/O）：
//   - 至少一页；
//   - 前导为 [0, 首页起点)，尾随为 [末页终点, Size)；
//   - 每页落在 [0, Size] 内且 Start<=End；
//   - 前导 + 各页 + 尾随 的字节数之和等于 Size。
//
// 不要求页按偏移有序：排序后页的发射顺序与偏移顺序无关。
func (l Layout) Validate() error {
	if len(l.Pages) == 0 {
		return ErrEmptyDocument
	}
	if l.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvariantViolation, l.Size)
	}
	if !inBounds(l.Preamble, l.Size) || l.Preamble.Start != 0 {
		return fmt.Errorf("%w: preamble %v", ErrInvariantViolation, l.Preamble)
	}
	if !inBounds(l.Trailer, l.Size) || l.Trailer.End != l.Size {
		return fmt.Errorf("%w: trailer %v", ErrInvariantViolation, l.Trailer)
	}
	for i, p := range l.Pages {
		if !inBounds(p.Span, l.Size) {
			return fmt.Errorf("%w: page %d span %v out of [0,%d]", ErrInvariantViolation, i, p.Span, l.Size)
		}
	}
	if total := l.Preamble.Len() + l.PageBytes() + l.Trailer.Len(); total != l.Size {
		return fmt.Errorf("%w: spans cover %d bytes, document has %d", ErrInvariantViolation, total, l.Size)
	}
	return nil
}

// IsSorted 报告页是否已按 id 非降序排列。
func IsSorted(pages []Page) bool {
	for i := 1; i < len(pages); i++ {
		if pages[i].ID < pages[i-1].ID {
			return false
		}
	}
	return true
}

func inBounds(s Span, size int) bool {
	return s.Start >= 0 && s.Start <= s.End && s.End <= size
}
