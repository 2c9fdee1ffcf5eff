package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"github.com/nci/nightlights/store/filestore"
	"github.com/nci/nightlights/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grid = raster.NewGeographicGrid(100, 2, 1, 2, 2)

// seedStore writes a water mask and a fresh harmonized year under dir and
// returns the path of a config.yaml pointing at them.
func seedStore(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "store")
	dsn := filepath.Join(dir, "mas.db")

	cat, err := mas.Open(mas.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, cat.Migrate())
	gs, err := filestore.New(root, cat, nil)
	require.NoError(t, err)

	ctx := context.Background()
	water, err := raster.FromValues(grid, []float64{1, 1, 1, 0})
	require.NoError(t, err)
	require.NoError(t, gs.Export(ctx, water, store.Destination{Name: "water_mask"}))

	harmonized, err := raster.FromValues(grid, []float64{0, 3, 7, 63})
	require.NoError(t, err)
	harmonized.Type = raster.Byte
	harmonized.TimeStamp = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, gs.Export(ctx, harmonized, store.Destination{Collection: "harmonized", Name: "viirs_2019", Era: "viirs"}))
	require.NoError(t, cat.Close())

	config := fmt.Sprintf(`service:
  store_root: %s
  catalogue_driver: sqlite
  catalogue_dsn: %s
  log_level: error
  max_retries: 1
`, root, dsn)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path, root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProduceCommand(t *testing.T) {
	config, root := seedStore(t)

	out, err := execute(t, "produce", "--config", config, "--date", "2020-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"job":"produce"`)
	assert.Contains(t, out, `"outcome":"success"`)
	assert.FileExists(t, filepath.Join(root, "power_driver", "power_2020-06-01.yaml"))

	out, err = execute(t, "--job", "produce", "--config", config, "--date", "2020-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome":"skipped"`)
}

func TestDiagnosticsFromEnvironment(t *testing.T) {
	config, _ := seedStore(t)
	t.Setenv("NL_CONFIG", config)
	t.Setenv("NL_DATE", "2020-01-10")

	out, err := execute(t, "diagnostics")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Asset harmonized/viirs_2019: 4 valid pixels"))
	assert.Contains(t, out, `"job":"diagnostics"`)
}

func TestCommandErrors(t *testing.T) {
	config, _ := seedStore(t)

	_, err := execute(t, "--job", "export", "--config", config)
	assert.ErrorContains(t, err, "unknown job")

	_, err = execute(t, "produce", "--config", config, "--date", "01/06/2020")
	assert.ErrorContains(t, err, "invalid date")

	_, err = execute(t, "produce", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "calibrate", "--config", config)
	assert.ErrorIs(t, err, task.ErrMissingInput)
}
