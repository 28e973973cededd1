package contract

import "context"

// Scanner: 在不透明字节缓冲中按字面标记定位页，提取数值 id，并计算前导/尾随区间。
// 约束：
//  1. 只读 src，不修改、不拷贝；
//  2. 页按源顺序输出，区间不重叠且严格递增；
//  3. 起始标记无匹配结束标记返回 ErrUnterminatedPage；
//  4. 零页返回 ErrEmptyDocument，且不得访问页列表；
//  5. id 解析失败不是错误（记为 0）。
type Scanner interface {
	Scan(ctx context.Context, doc DocID, src []byte) (Layout, error)
}
