//go:build !unix

package filesystem

import (
	"errors"
	"os"

	"pagesort/pkg/contract"
)

const mmapSupported = false

func fillMapped(f *os.File, size int, fill contract.FillFunc) error {
	return &os.PathError{Op: "mmap", Path: f.Name(), Err: errors.ErrUnsupported}
}
