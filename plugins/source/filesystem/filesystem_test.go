package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// TestOpenMapped 默认映射加载，内容完整。
func TestOpenMapped(t *testing.T) {
	p := writeFile(t, "a.xml", "  <page>\n  </page>\n")
	buf, err := New(nil).Open(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "  <page>\n  </page>\n", string(buf.Bytes()))
	require.NoError(t, buf.Close())
	// 重复 Close 安全
	require.NoError(t, buf.Close())
}

// TestOpenHeap 关闭映射时整体读入。
func TestOpenHeap(t *testing.T) {
	p := writeFile(t, "a.xml", "hello")
	off := false
	buf, err := New(&Options{Mmap: &off}).Open(context.Background(), p)
	require.NoError(t, err)
	defer buf.Close()
	assert.Equal(t, "hello", string(buf.Bytes()))
}

// TestOpenEmptyFile 空文件不映射，返回空缓冲。
func TestOpenEmptyFile(t *testing.T) {
	p := writeFile(t, "empty.xml", "")
	buf, err := New(nil).Open(context.Background(), p)
	require.NoError(t, err)
	defer buf.Close()
	assert.Empty(t, buf.Bytes())
}

// TestOpenStdin "-" 读取 STDIN。
func TestOpenStdin(t *testing.T) {
	s := New(nil)
	s.stdin = strings.NewReader("from stdin")
	buf, err := s.Open(context.Background(), "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(buf.Bytes()))
}

// TestOpenErrors 缺失文件与目录均为 PathError。
func TestOpenErrors(t *testing.T) {
	var perr *os.PathError
	_, err := New(nil).Open(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
	assert.True(t, errors.As(err, &perr))

	_, err = New(nil).Open(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.As(err, &perr))
}

// TestOpenCtxCancel 上下文取消
func TestOpenCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Open(ctx, "whatever")
	assert.ErrorIs(t, err, context.Canceled)
}
