package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "add_campaign_budget", Slug("  Add Campaign-Budget!! "))
	assert.Equal(t, "", Slug("---"))
}

func TestCreateSQLMigrationProducesValidFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add ledger export index", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_ledger_export_index.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "add ledger export index", now)
	require.Error(t, err)

	_, err = CreateSQLMigration(dir, "!!!", now)
	require.Error(t, err)
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	body := []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")
	fsys := fstest.MapFS{
		"20260101000000_first.sql":   {Data: body},
		"20260101000000_second.sql":  {Data: body},
		"20260102000000_no_down.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"bad-name.sql":               {Data: body},
	}

	err := ValidateFS(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by")
	assert.Contains(t, err.Error(), "missing \"-- +goose Down\"")
	assert.Contains(t, err.Error(), "bad-name.sql")
}

func TestEmbeddedMigrationsMatchSourceDir(t *testing.T) {
	require.NoError(t, ValidateFS(Migrations()))

	onDisk, err := os.ReadDir("migrations")
	require.NoError(t, err)
	for _, entry := range onDisk {
		_, err := Migrations().Open(entry.Name())
		assert.NoError(t, err, entry.Name())
	}
}
