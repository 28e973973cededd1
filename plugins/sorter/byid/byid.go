package byid

import (
	"cmp"
	"context"
	"slices"

	"pagesort/pkg/contract"
)

// Options 为按 id 排序器的可选配置。
type Options struct {
	// Stable: 相同 id 保持源顺序。默认 false：相同 id 的相对顺序不作保证
	// （对同一输入确定，但不承诺与源顺序一致）。
	Stable bool `json:"stable"`
}

// Sorter 按 id 升序原地重排页描述符，O(n log n) 比较排序。
type Sorter struct {
	stable bool
}

// New 创建 Sorter。
func New(opts *Options) *Sorter {
	s := &Sorter{}
	if opts != nil {
		s.stable = opts.Stable
	}
	return s
}

var _ contract.Sorter = (*Sorter)(nil)

// Sort 原地排序；不做相减比较，避免 id 差值溢出。
func (s *Sorter) Sort(ctx context.Context, pages []contract.Page) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	// 已有序（含重复 id）时不移动任何描述符：排序结果是不动点
	if contract.IsSorted(pages) {
		return nil
	}
	if s.stable {
		slices.SortStableFunc(pages, byID)
		return nil
	}
	slices.SortFunc(pages, byID)
	return nil
}

func byID(a, b contract.Page) int { return cmp.Compare(a.ID, b.ID) }
