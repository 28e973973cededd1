package contract

import "context"

// Writer: 将 前导 + 排序后的页 + 尾随 依次拷贝进已定长的目标缓冲区。
// 约束：
//  1. len(dst) 必须等于 len(src)，否则 ErrSizeMismatch；
//  2. 页字节逐字拷贝，不插入分隔符、填充或重编码；
//  3. 不修改 src；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, dst, src []byte, layout Layout) error
}
