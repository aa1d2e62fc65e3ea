package resolver

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseSeed(t *testing.T) {
	names, err := ParseSeed([]byte("names:\n  python: 128.36.232.37\n  tick: 128.36.232.37\n"))
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, "128.36.232.37", names["tick"])

	empty, err := ParseSeed([]byte("names: {}\n"))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "names: [python"},
		{"bad address", "names:\n  python: 128.36.232\n"},
		{"bad name", "names:\n  \"two words\": 1.2.3.4\n"},
		{"empty", ""},
		{"blank", "  \n\n"},
		{"missing names", "other: 1\n"},
		{"null names", "names:\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidSeed)
		})
	}
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestSeedWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.yaml")
	writeSeed(t, path, "names:\n  python: 1.1.1.1\n")

	dir := NewDirectory()
	var reloads atomic.Int32
	w, err := NewSeedWatcher(path, dir, func(error) { reloads.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, "1.1.1.1", dir.LookupName("python"))

	writeSeed(t, path, "names:\n  python: 2.2.2.2\n  tick: 2.2.2.2\n")
	require.Eventually(t, func() bool {
		return dir.LookupName("tick") == "2.2.2.2" && dir.LookupName("python") == "2.2.2.2"
	}, 5*time.Second, 10*time.Millisecond)

	// 无效内容和空文件都保留上一次的结果
	unchanged := func() bool {
		return dir.LookupName("python") == "2.2.2.2" && dir.LookupName("tick") == "2.2.2.2"
	}
	for _, content := range []string{"names:\n  python: nope\n", ""} {
		before := reloads.Load()
		writeSeed(t, path, content)
		require.Eventually(t, func() bool { return reloads.Load() > before }, 5*time.Second, 10*time.Millisecond)
		assert.Never(t, func() bool { return !unchanged() }, 200*time.Millisecond, 10*time.Millisecond)
	}
	assert.True(t, unchanged())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
