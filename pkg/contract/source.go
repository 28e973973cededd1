package contract

import "context"

// Buffer: 完整驻留内存的只读源文档。
// Bytes 在 Close 之前有效；调用方负责 Close。
type Buffer interface {
	Bytes() []byte
	Close() error
}

// Source: 获取源文档缓冲区（文件/STDIN）。
// 约束：返回的内容为完整、未修改的文档；不做解码/业务解析。
type Source interface {
	Open(ctx context.Context, path string) (Buffer, error)
}
