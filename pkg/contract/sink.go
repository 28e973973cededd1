package contract

import "context"

// FillFunc: 向已定长的目标区域写入全部字节；返回错误即放弃提交。
type FillFunc func(dst []byte) error

// Sink: 目标工件的准备与持久化。
// 约束：
//  1. 在调用 fill 前准备好恰为 size 字节的可写区域；
//  2. fill 成功后持久化；fill 失败不得留下部分写入的工件（原子模式下目标保持原状）；
//  3. 同一路径单写者；
//  4. 错误直接上抛。
type Sink interface {
	Commit(ctx context.Context, path string, size int, fill FillFunc) error
}
