package fusefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absfs/encfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mountForTest mounts a fresh overlay, skipping when FUSE is unavailable.
func mountForTest(t *testing.T) (mnt, root string) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("FUSE not available")
	}

	root = t.TempDir()
	mnt = t.TempDir()

	d := NewDispatcher(newEngine(t, root, "k1", encfs.NewMemoryMarkers()), nil)
	server, err := Mount(mnt, d, MountOptions{})
	if err != nil {
		t.Skipf("mount failed: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("unmount failed: %v", err)
		}
	})
	return mnt, root
}

func TestMount_EncryptsNewFiles(t *testing.T) {
	mnt, root := mountForTest(t)

	require.NoError(t, os.WriteFile(filepath.Join(mnt, "a.txt"), []byte("hello"), 0644))

	got, err := os.ReadFile(filepath.Join(mnt, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	raw, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.NotEqual(t, "hello", string(raw))

	info, err := os.Stat(filepath.Join(mnt, "a.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size())
}

func TestMount_PassesThroughExistingFiles(t *testing.T) {
	mnt, root := mountForTest(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "plain.txt"), []byte("visible"), 0644))

	got, err := os.ReadFile(filepath.Join(mnt, "plain.txt"))
	require.NoError(t, err)
	assert.Equal(t, "visible", string(got))
}

func TestMount_DirectoriesAndRename(t *testing.T) {
	mnt, root := mountForTest(t)

	require.NoError(t, os.MkdirAll(filepath.Join(mnt, "a", "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "f"), []byte("x"), 0644))
	require.NoError(t, os.Rename(filepath.Join(mnt, "a", "b", "f"), filepath.Join(mnt, "a", "g")))

	got, err := os.ReadFile(filepath.Join(mnt, "a", "g"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	entries, err := os.ReadDir(filepath.Join(mnt, "a"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"b", "g"}, names)
}
