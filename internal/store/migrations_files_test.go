package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	files, err := readMigrations(migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migrations discovered")

	for _, f := range files {
		assert.NotEmpty(t, f.up, "version %s missing up file", f.version)
		assert.NotEmpty(t, f.down, "version %s missing down file", f.version)
	}
}

func TestReadMigrationsOrdersByVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_b.up.sql", "0002_b.down.sql",
		"0001_a.up.sql", "0001_a.down.sql",
		"0010_c.up.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	files, err := readMigrations(dir)
	require.NoError(t, err)

	var versions []string
	for _, f := range files {
		versions = append(versions, f.version)
	}
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql", "0010_c.up.sql"}, versions)
	assert.Empty(t, files[2].down)
}

func TestReadMigrationsRejectsOrphanDown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0003_x.down.sql"), []byte(""), 0o644))

	_, err := readMigrations(dir)
	require.Error(t, err)
}
