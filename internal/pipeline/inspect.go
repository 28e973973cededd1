package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pagesort/pkg/contract"
)

// Summary 为只读诊断结果（inspect 子命令输出）。
type Summary struct {
	Doc           string `json:"doc"`
	Size          int    `json:"size"`
	Pages         int    `json:"pages"`
	PreambleBytes int    `json:"preamble_bytes"`
	TrailerBytes  int    `json:"trailer_bytes"`
	PageBytes     int    `json:"page_bytes"`
	MinID         int64  `json:"min_id"`
	MaxID         int64  `json:"max_id"`
	// DuplicateIDs: 与之前某页 id 相同的页数（总页数 - 不同 id 数）。
	DuplicateIDs int `json:"duplicate_ids"`
	// ZeroIDs: id 为 0 的页数（缺失或非数字 id 也计为 0）。
	ZeroIDs int  `json:"zero_ids"`
	Sorted  bool `json:"sorted"`
}

// Inspect 载入并扫描 path，不排序、不写出。
func Inspect(ctx context.Context, comp Components, path string) (Summary, error) {
	if comp.Source == nil || comp.Scanner == nil {
		return Summary{}, errors.New("pipeline: missing components")
	}
	doc := contract.NormalizeDocID(path)
	buf, err := comp.Source.Open(ctx, path)
	if err != nil {
		return Summary{}, fmt.Errorf("source open: %w", err)
	}
	defer buf.Close()
	layout, err := comp.Scanner.Scan(ctx, doc, buf.Bytes())
	if err != nil {
		return Summary{}, fmt.Errorf("scanner scan: %w", err)
	}
	return Summarize(layout), nil
}

// Summarize 汇总 layout 的统计信息（按文档顺序）。
func Summarize(l contract.Layout) Summary {
	s := Summary{
		Doc:           string(l.Doc),
		Size:          l.Size,
		Pages:         len(l.Pages),
		PreambleBytes: l.Preamble.Len(),
		TrailerBytes:  l.Trailer.Len(),
		PageBytes:     l.PageBytes(),
		Sorted:        contract.IsSorted(l.Pages),
	}
	seen := make(map[int64]struct{}, len(l.Pages))
	for i, p := range l.Pages {
		if i == 0 || p.ID < s.MinID {
			s.MinID = p.ID
		}
		if i == 0 || p.ID > s.MaxID {
			s.MaxID = p.ID
		}
		if p.ID == 0 {
			s.ZeroIDs++
		}
		if _, ok := seen[p.ID]; ok {
			s.DuplicateIDs++
		}
		seen[p.ID] = struct{}{}
	}
	return s
}
