//go:build unix

package filesystem

import (
	"os"

	"golang.org/x/sys/unix"

	"pagesort/pkg/contract"
)

const mmapSupported = true

// fillMapped 以读写共享映射填充已定长的 f，并在解除映射前同步落盘。
func fillMapped(f *os.File, size int, fill contract.FillFunc) (err error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return &os.PathError{Op: "mmap", Path: f.Name(), Err: err}
	}
	defer func() {
		if uerr := unix.Munmap(data); uerr != nil && err == nil {
			err = &os.PathError{Op: "munmap", Path: f.Name(), Err: uerr}
		}
	}()
	if err := fill(data); err != nil {
		return err
	}
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return &os.PathError{Op: "msync", Path: f.Name(), Err: err}
	}
	return nil
}
