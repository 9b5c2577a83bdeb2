package testutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateDummyBuf creates a byte slice that is `size` big.
// It's filled with the repeating numbers [0...254].
func CreateDummyBuf(size int64) []byte {
	buf := make([]byte, size)

	for i := int64(0); i < size; i++ {
		// Be evil and stripe the data:
		buf[i] = byte(i % 255)
	}

	return buf
}

// ServeDir creates a temporary directory filled with `files`
// (name -> content) and returns its path. The directory is
// removed when the test ends.
func ServeDir(t *testing.T, files map[string][]byte) string {
	dir, err := ioutil.TempDir("", "ftserve-test")
	require.Nil(t, err)

	for name, data := range files {
		path := filepath.Join(dir, name)
		require.Nil(t, os.MkdirAll(filepath.Dir(path), 0700))
		require.Nil(t, ioutil.WriteFile(path, data, 0600))
	}

	t.Cleanup(func() {
		Remover(t, dir)
	})

	return dir
}

// Remover removes all files in paths recursively and errors when it fails.
// It is no error if there's nothing to delete. It's useful in defer statements.
func Remover(t *testing.T, paths ...string) {
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			t.Errorf("removing temp directory failed: %v", err)
		}
	}
}
