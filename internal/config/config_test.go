package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "stub", cfg.LLMProvider)
	assert.Equal(t, []string{"markdown", "html"}, cfg.ExportFormats)
	assert.Equal(t, time.Second, cfg.StreamInterval)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.MinIOEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("LLM_PROVIDER", " OpenAI ")
	t.Setenv("EXPORT_FORMATS", "PDF, docx")
	t.Setenv("STREAM_INTERVAL", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, []string{"pdf", "docx"}, cfg.ExportFormats)
	assert.Equal(t, 250*time.Millisecond, cfg.StreamInterval)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("STREAM_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("EXPORT_WORKERS", "many")

	_, err := Load()
	require.Error(t, err)
}

func TestMigrationsSource(t *testing.T) {
	embedded := Config{}.Migrations()
	_, err := fs.Stat(embedded, "0001_projects_revisions.up.sql")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_local.up.sql"), []byte("SELECT 1;"), 0o644))
	local := Config{MigrationsDir: dir}.Migrations()
	_, err = fs.Stat(local, "0001_local.up.sql")
	require.NoError(t, err)
}
