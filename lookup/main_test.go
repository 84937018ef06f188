package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ft8ctrl.yaml")
	doc := "ft8ctrl:\n  db_name: /tmp/x.db\n  my_call: W6BSD\n"
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o644))

	cfg, err := loadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.FT8Ctrl.DBName)
	assert.NotEmpty(t, cfg.FT8Ctrl.HomeDir)
}

func TestLoadConfigNeedsDBName(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ft8ctrl.yaml")
	require.NoError(t, os.WriteFile(file, []byte("ft8ctrl:\n  my_call: W6BSD\n"), 0o644))

	_, err := loadConfig(file)
	require.Error(t, err)
}

func TestWrap(t *testing.T) {
	lines := wrap([]string{"K", "KA", "KB", "KC"}, 10)
	assert.Equal(t, []string{"K, KA, KB,", "KC"}, lines)

	assert.Empty(t, wrap(nil, 10))
	assert.Equal(t, []string{"W"}, wrap([]string{"W"}, 10))
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "New", statusName(0))
	assert.Equal(t, "Called", statusName(1))
	assert.Equal(t, "Worked", statusName(2))
	assert.Equal(t, "9", statusName(9))
}
