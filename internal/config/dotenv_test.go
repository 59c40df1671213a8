package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFiles(t *testing.T, files map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// unsetLater clears variables a test expects LoadDotEnv to set
func unsetLater(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDotEnv_EnvSpecificFileWins(t *testing.T) {
	writeEnvFiles(t, map[string]string{
		".env":           "APP_ENV=staging\nDM_TEST_GREETING=base\nDM_TEST_ONLY_BASE=yes\n",
		".env.staging":   "DM_TEST_GREETING=staging\n",
		".env.dev.local": "DM_TEST_GREETING=unused\n",
	})
	unsetLater(t, "APP_ENV", EnvFileVar, "DM_TEST_GREETING", "DM_TEST_ONLY_BASE")

	loaded := LoadDotEnv()

	assert.Equal(t, []string{".env.staging", ".env"}, loaded)
	assert.Equal(t, "staging", os.Getenv("DM_TEST_GREETING"))
	assert.Equal(t, "yes", os.Getenv("DM_TEST_ONLY_BASE"))
}

func TestLoadDotEnv_OSEnvironmentWins(t *testing.T) {
	writeEnvFiles(t, map[string]string{
		".env.local": "DM_TEST_GREETING=file\n",
	})
	unsetLater(t, "APP_ENV", EnvFileVar)
	t.Setenv("DM_TEST_GREETING", "os")

	assert.Equal(t, []string{".env.local"}, LoadDotEnv())
	assert.Equal(t, "os", os.Getenv("DM_TEST_GREETING"))
}

func TestLoadDotEnv_ExplicitFile(t *testing.T) {
	writeEnvFiles(t, map[string]string{
		"messenger.env": "DM_TEST_GREETING=explicit\n",
		".env":          "DM_TEST_GREETING=ignored\n",
	})
	unsetLater(t, "APP_ENV", "DM_TEST_GREETING")
	t.Setenv(EnvFileVar, "messenger.env")

	assert.Equal(t, []string{"messenger.env"}, LoadDotEnv())
	assert.Equal(t, "explicit", os.Getenv("DM_TEST_GREETING"))
}
