//go:build unix

package filesystem

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"pagesort/pkg/contract"
)

const mmapSupported = true

// mappedBuffer: 只读共享映射；Close 解除映射，之后 Bytes 返回 nil。
type mappedBuffer struct {
	mu   sync.Mutex
	data []byte
}

func mapFile(f *os.File, size int) (contract.Buffer, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &os.PathError{Op: "mmap", Path: f.Name(), Err: err}
	}
	// 扫描与拷贝均为顺序访问；提示失败不影响正确性。
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return &mappedBuffer{data: data}, nil
}

func (m *mappedBuffer) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *mappedBuffer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
