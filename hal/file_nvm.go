//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	hostNVMDefaultPath      = "ember.nvm"
	hostNVMDefaultSizeBytes = 256 * 1024
)

// FileNVM is an NVM image kept in a host file.
type FileNVM struct {
	mu   sync.Mutex
	f    *os.File
	size uint32
}

// OpenFileNVM opens (creating if needed) an image of size bytes.
//
// An existing non-empty image keeps its own size.
func OpenFileNVM(path string, size uint32) (*FileNVM, error) {
	if path == "" {
		path = hostNVMDefaultPath
	}
	if size == 0 {
		size = hostNVMDefaultSizeBytes
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open nvm image %q: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat nvm image %q: %w", path, err)
	}
	if st.Size() > 0 {
		if st.Size() > int64(^uint32(0)) {
			_ = f.Close()
			return nil, fmt.Errorf("nvm image %q: size %d too large", path, st.Size())
		}
		size = uint32(st.Size())
	} else if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate nvm image %q to %d: %w", path, size, err)
	}

	return &FileNVM{f: f, size: size}, nil
}

func (n *FileNVM) Close() error { return n.f.Close() }

func (n *FileNVM) SizeBytes() uint32 { return n.size }

func (n *FileNVM) ReadAt(p []byte, off uint32) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if off >= n.size {
		return 0, fmt.Errorf("nvm read at %d: %w", off, os.ErrInvalid)
	}
	maxN := int(n.size - off)
	if len(p) > maxN {
		p = p[:maxN]
	}
	c, err := n.f.ReadAt(p, int64(off))
	if errors.Is(err, io.EOF) && c == len(p) {
		err = nil
	}
	return c, err
}

func (n *FileNVM) WriteAt(p []byte, off uint32) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if off >= n.size || uint64(off)+uint64(len(p)) > uint64(n.size) {
		return 0, fmt.Errorf("nvm write at %d len %d: %w", off, len(p), os.ErrInvalid)
	}
	return n.f.WriteAt(p, int64(off))
}

// Sync flushes the image to stable storage.
func (n *FileNVM) Sync() error { return n.f.Sync() }
