package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSkipsMissingAndKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FORMRELAY_TEST_A=from-file\nFORMRELAY_TEST_B=from-file\n"), 0o600))

	t.Setenv("FORMRELAY_TEST_A", "from-env")
	t.Setenv("FORMRELAY_TEST_B", "")
	require.NoError(t, os.Unsetenv("FORMRELAY_TEST_B"))
	t.Cleanup(func() { _ = os.Unsetenv("FORMRELAY_TEST_B") })

	loaded, err := Load(filepath.Join(dir, "missing.env"), "", path)
	require.NoError(t, err)

	assert.Equal(t, []string{path}, loaded)
	assert.Equal(t, "from-env", os.Getenv("FORMRELAY_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("FORMRELAY_TEST_B"))
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "not set", Masked(""))
	assert.Equal(t, "****", Masked("hunter2"))
}
