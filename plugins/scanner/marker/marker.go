package marker

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"pagesort/pkg/contract"
)

// 默认字面标记（MediaWiki XML 导出的缩进格式）。
const (
	DefaultStart = "  <page>"
	DefaultEnd   = "  </page>\n"
	DefaultID    = "<id>"
)

// ctxCheckEvery: 每扫描多少页检查一次 ctx。
const ctxCheckEvery = 4096

// Options 为字面标记 Scanner 的可选配置。空字符串表示使用默认标记。
type Options struct {
	// StartMarker: 页起始字面量，默认两个空格 + "<page>"。
	StartMarker string `json:"start_marker"`
	// EndMarker: 页结束字面量（页区间包含完整结束标记），默认两个空格 + "</page>" + 换行。
	EndMarker string `json:"end_marker"`
	// IDMarker: 页内首个出现处之后为十进制 id 文本，默认 "<id>"。
	IDMarker string `json:"id_marker"`
}

// Scanner 实现基于字面标记的页定位。
type Scanner struct {
	start []byte
	end   []byte
	id    []byte
}

// New 创建 Scanner。起始与结束标记不得相同。
func New(opts *Options) (*Scanner, error) {
	s := &Scanner{start: []byte(DefaultStart), end: []byte(DefaultEnd), id: []byte(DefaultID)}
	if opts != nil {
		if opts.StartMarker != "" {
			s.start = []byte(opts.StartMarker)
		}
		if opts.EndMarker != "" {
			s.end = []byte(opts.EndMarker)
		}
		if opts.IDMarker != "" {
			s.id = []byte(opts.IDMarker)
		}
	}
	if bytes.Equal(s.start, s.end) {
		return nil, fmt.Errorf("%w: start and end markers must differ", contract.ErrInvalidInput)
	}
	return s, nil
}

var _ contract.Scanner = (*Scanner)(nil)

// Scan 在 src 中定位全部页并计算前导/尾随区间。
func (s *Scanner) Scan(ctx context.Context, doc contract.DocID, src []byte) (contract.Layout, error) {
	layout := contract.Layout{Doc: doc, Size: len(src)}
	var pages []contract.Page
	cursor := 0
	for {
		if len(pages)%ctxCheckEvery == 0 {
			if err := ctxErr(ctx); err != nil {
				return contract.Layout{}, err
			}
		}
		rel := bytes.Index(src[cursor:], s.start)
		if rel < 0 {
			break
		}
		start := cursor + rel
		// 结束标记自起始标记首字节处开始查找
		erel := bytes.Index(src[start:], s.end)
		if erel < 0 {
			return contract.Layout{}, fmt.Errorf("%w: page at offset %d has no %q before end of document", contract.ErrUnterminatedPage, start, s.end)
		}
		end := start + erel + len(s.end)
		pages = append(pages, contract.Page{ID: s.pageID(src[start:end]), Span: contract.Span{Start: start, End: end}})
		cursor = end
	}
	if len(pages) == 0 {
		return contract.Layout{}, fmt.Errorf("%w: %s", contract.ErrEmptyDocument, doc)
	}
	layout.Pages = pages
	layout.Preamble = contract.Span{Start: 0, End: pages[0].Start}
	layout.Trailer = contract.Span{Start: pages[len(pages)-1].End, End: len(src)}
	return layout, nil
}

// pageID 在页区间内查找首个 id 标记并按前导十进制策略解析。
func (s *Scanner) pageID(page []byte) int64 {
	i := bytes.Index(page, s.id)
	if i < 0 {
		return 0
	}
	return ParseLeadingDecimal(page[i+len(s.id):])
}

// ParseLeadingDecimal 解析前导十进制整数：
//   - 不跳过空白，不接受符号；
//   - 读取连续 ASCII 数字，遇首个非数字停止；
//   - 无数字返回 0；
//   - 超出 int64 时饱和为 math.MaxInt64。
func ParseLeadingDecimal(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			n = math.MaxInt64
			continue
		}
		n = n*10 + d
	}
	return n
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

