package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"

	"pagesort/pkg/contract"
)

// Options 为文件系统 Source 的可选配置（最小必要）。
type Options struct {
	// Mmap: 是否以只读内存映射方式加载源文件（仅 unix）。
	// 默认 true；显式 false 时整体读入堆内存。
	Mmap *bool `json:"mmap,omitempty"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Source。
type FileSystem struct {
	mmap  bool
	stdin io.Reader
}

// New 创建 FileSystem Source。
func New(opts *Options) *FileSystem {
	m := true
	if opts != nil && opts.Mmap != nil {
		m = *opts.Mmap
	}
	return &FileSystem{mmap: m, stdin: os.Stdin}
}

var _ contract.Source = (*FileSystem)(nil)

// Open 加载 path 的完整内容。"-" 表示 STDIN（整体读入）。
// 仅接受常规文件；目录/设备返回 *os.PathError。
func (s *FileSystem) Open(ctx context.Context, path string) (contract.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if path == "-" {
		b, err := io.ReadAll(s.stdin)
		if err != nil {
			return nil, &os.PathError{Op: "read", Path: "stdin", Err: err}
		}
		return heapBuffer(b), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, &os.PathError{Op: "open", Path: path, Err: fmt.Errorf("not a regular file (%s)", st.Mode().Type())}
	}
	size := st.Size()
	if int64(int(size)) != size {
		return nil, &os.PathError{Op: "open", Path: path, Err: fmt.Errorf("file too large: %d bytes", size)}
	}
	// 空文件无法映射；走堆路径（随后由 Scanner 报告空文档）。
	if s.mmap && mmapSupported && size > 0 {
		return mapFile(f, int(size))
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, &os.PathError{Op: "read", Path: path, Err: err}
	}
	return heapBuffer(b), nil
}

// heapBuffer: 堆内存缓冲，Close 为 no-op。
type heapBuffer []byte

func (b heapBuffer) Bytes() []byte { return b }
func (b heapBuffer) Close() error  { return nil }
