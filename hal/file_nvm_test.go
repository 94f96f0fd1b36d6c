package hal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNVMPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.nvm")

	f, err := OpenFileNVM(path, 128)
	require.NoError(t, err)
	assert.Equal(t, uint32(128), f.SizeBytes())
	_, err = f.WriteAt([]byte("ember"), 100)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenFileNVM(path, 4096)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint32(128), f.SizeBytes(), "existing image keeps its size")

	got := make([]byte, 5)
	_, err = f.ReadAt(got, 100)
	require.NoError(t, err)
	assert.Equal(t, "ember", string(got))

	_, err = f.WriteAt([]byte("xx"), 127)
	assert.Error(t, err)
}
