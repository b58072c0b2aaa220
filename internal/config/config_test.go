package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	env, err := ResolveEnv("")
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, env)

	t.Setenv(EnvVar, EnvProduction)
	env, err = ResolveEnv("")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, env)

	env, err = ResolveEnv(EnvTest)
	require.NoError(t, err)
	assert.Equal(t, EnvTest, env, "explicit env wins")

	_, err = ResolveEnv("staging")
	assert.Error(t, err)
}

func TestDefaultsPerEnvironment(t *testing.T) {
	dev := NewDefaultConfig(EnvDevelopment)
	assert.True(t, dev.Web.ReloadTemplates)
	assert.Equal(t, "console", dev.Log.Format)
	assert.Equal(t, filepath.Join("db", "development.sqlite3"), dev.Database.Path)

	test := NewDefaultConfig(EnvTest)
	assert.Equal(t, ":memory:", test.Database.Path)

	prod := NewDefaultConfig(EnvProduction)
	assert.False(t, prod.Web.ReloadTemplates)
	assert.Equal(t, "json", prod.Log.Format)
	assert.True(t, prod.IsProduction())
	assert.True(t, prod.CSRF.Enabled)
}

func TestLoadMergesFilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(`
app:
  name: shop
session:
  ttl: 30m
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "production.yaml"), []byte(`
web:
  listen_addr: ":8080"
csrf:
  exempt_prefixes: ["/api/"]
`), 0o644))
	t.Setenv("BOLTS_DATABASE_PATH", "/var/lib/shop.sqlite3")
	t.Setenv("BOLTS_LISTEN_ADDR", "")

	cfg, err := Load(dir, EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.App.Name)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, ":8080", cfg.Web.ListenAddr)
	assert.Equal(t, []string{"/api/"}, cfg.CSRF.ExemptPrefixes)
	assert.Equal(t, "/var/lib/shop.sqlite3", cfg.Database.Path)
	assert.Equal(t, EnvProduction, cfg.Env)
}

func TestLoadMissingDirUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"), EnvTest)
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.Web.ListenAddr)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte("web: ["), 0o644))
	_, err := Load(dir, EnvTest)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultConfig(EnvTest)
	cfg.Web.SSL = true
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig(EnvTest)
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig(EnvTest)
	cfg.Session.TTL = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOLTS_TEST_DOTENV=yes\n"), 0o644))
	t.Setenv("BOLTS_TEST_DOTENV", "")
	os.Unsetenv("BOLTS_TEST_DOTENV")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("BOLTS_TEST_DOTENV"))
}
