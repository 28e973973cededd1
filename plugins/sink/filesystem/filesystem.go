package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pagesort/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。显式 false 时原地截断并写入目标（中途失败会留下不完整的目标）。
	Atomic *bool `json:"atomic,omitempty"`
	// Mmap: 是否以读写映射方式填充已定长文件（仅 unix）。
	// 默认 true；显式 false 时在堆上填充后一次写出。
	Mmap *bool `json:"mmap,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

type FS struct {
	atomic bool
	mmap   bool
	permF  os.FileMode
	permD  os.FileMode
	stdout io.Writer
}

// New 创建文件系统 Sink 实现。
func New(opts *Options) *FS {
	w := &FS{atomic: true, mmap: true, permF: 0o644, permD: 0o755, stdout: os.Stdout}
	if opts == nil {
		return w
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Mmap != nil {
		w.mmap = *opts.Mmap
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	return w
}

var _ contract.Sink = (*FS)(nil)

// Atomic 报告是否启用原子替换。
func (w *FS) Atomic() bool { return w.atomic }

// Commit 准备恰为 size 字节的目标区域，调用 fill 填充后持久化到 path。
// "-" 表示 STDOUT。
func (w *FS) Commit(ctx context.Context, path string, size int, fill contract.FillFunc) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", contract.ErrInvalidInput, size)
	}
	if strings.TrimSpace(path) == "" {
		return contract.ErrPathInvalid
	}
	if path == "-" {
		buf := make([]byte, size)
		if err := fill(buf); err != nil {
			return err
		}
		if err := ctxErr(ctx); err != nil {
			return err
		}
		_, err := w.stdout.Write(buf)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.commitAtomic(ctx, path, size, fill)
	}
	return w.commitInPlace(ctx, path, size, fill)
}

// commitInPlace: 与 ftruncate + 映射写等价，无原子保证。
func (w *FS) commitInPlace(ctx context.Context, dest string, size int, fill contract.FillFunc) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_RDWR, w.permF)
	if err != nil {
		return err
	}
	// 确保及时关闭
	defer f.Close()

	if err := w.fillFile(f, size, fill); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

func (w *FS) commitAtomic(ctx context.Context, dest string, size int, fill contract.FillFunc) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmpPath, w.permF)

	discard := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := w.fillFile(tmp, size, fill); err != nil {
		return discard(err)
	}
	// 取消发生在填充之后也不提交
	if err := ctxErr(ctx); err != nil {
		return discard(err)
	}
	if err := tmp.Sync(); err != nil {
		return discard(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）：
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// fillFile 先将 f 定长为 size，再填充全部字节。
func (w *FS) fillFile(f *os.File, size int, fill contract.FillFunc) error {
	if err := f.Truncate(int64(size)); err != nil {
		return err
	}
	if w.mmap && mmapSupported && size > 0 {
		return fillMapped(f, size, fill)
	}
	buf := make([]byte, size)
	if err := fill(buf); err != nil {
		return err
	}
	_, err := f.WriteAt(buf, 0)
	return err
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
