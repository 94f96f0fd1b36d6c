package cli

import (
	"fmt"
	"os"

	"ember/hal"
)

// openImage opens an existing NVM image file.
func openImage(path string) (*hal.FileNVM, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("image %s: empty", path)
	}
	return hal.OpenFileNVM(path, 0)
}

// closeImage syncs and closes nvm, keeping the first error.
func closeImage(nvm *hal.FileNVM, err error) error {
	if serr := nvm.Sync(); err == nil {
		err = serr
	}
	if cerr := nvm.Close(); err == nil {
		err = cerr
	}
	return err
}
