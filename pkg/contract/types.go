package contract

// DocID: 逻辑文档ID（通常为源路径，需规范化，跨平台一致）。
type DocID string

// Span: 源缓冲区内的半开字节区间 [Start, End)。
// 仅为偏移量视图，不持有字节；有效期与源缓冲区一致。
type Span struct {
	Start int
	End   int
}

// Len 返回区间字节数。
func (s Span) Len() int { return s.End - s.Start }

// Bytes 返回 src 中对应区间的只读视图（不拷贝）。
func (s Span) Bytes(src []byte) []byte { return src[s.Start:s.End] }

// Page: 记录描述符 {id, start, end}。
// 约束：
//   - Span 覆盖从起始标记首字节到结束标记末字节（含完整结束标记）；
//   - ID 由前导十进制策略解析，缺失或无数字时为 0。
type Page struct {
	ID int64
	Span
}

// Layout: 一次扫描的完整结果。
// 输出 = Preamble ++ Pages(新顺序) ++ Trailer，总长恒等于 Size。
type Layout struct {
	Doc DocID
	// Size: 源缓冲区长度。
	Size     int
	Preamble Span
	Pages    []Page
	Trailer  Span
}

// PageBytes 返回全部页的字节总数（与顺序无关）。
func (l Layout) PageBytes() int {
	n := 0
	for _, p := range l.Pages {
		n += p.Len()
	}
	return n
}
