//go:build !unix

package filesystem

import (
	"errors"
	"os"

	"pagesort/pkg/contract"
)

const mmapSupported = false

func mapFile(f *os.File, size int) (contract.Buffer, error) {
	return nil, &os.PathError{Op: "mmap", Path: f.Name(), Err: errors.ErrUnsupported}
}
