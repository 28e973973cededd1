package contract

import "context"

// Sorter: 按 id 升序原地重排页描述符。
// 相同 id 的相对顺序由实现决定（默认不保证稳定），但对同一输入须确定。
type Sorter interface {
	Sort(ctx context.Context, pages []Page) error
}
