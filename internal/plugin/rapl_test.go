// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSysfsFixture builds a minimal powercap tree under dir.
func writeSysfsFixture(t *testing.T, dir string, zones map[string]map[string]string) {
	t.Helper()

	for zone, files := range zones {
		zoneDir := filepath.Join(dir, "class", "powercap", zone)
		require.NoError(t, os.MkdirAll(zoneDir, 0o755))
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(zoneDir, name), []byte(content), 0o644))
		}
	}
}

func TestRaplPluginAvailable(t *testing.T) {
	dir := t.TempDir()
	writeSysfsFixture(t, dir, map[string]map[string]string{
		"intel-rapl:0": {
			"name":                "package-0\n",
			"energy_uj":           "1000000\n",
			"max_energy_range_uj": "262143328850\n",
		},
	})

	p := NewRaplPlugin(WithRaplSysfsPath(dir))
	assert.Equal(t, "rapl", p.Name())
	assert.True(t, p.Available())
}

func TestRaplPluginUnavailable(t *testing.T) {
	t.Run("missing sysfs", func(t *testing.T) {
		p := NewRaplPlugin(WithRaplSysfsPath("/nonexistent"))
		assert.False(t, p.Available())
	})

	t.Run("no zones", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "class", "powercap"), 0o755))
		p := NewRaplPlugin(WithRaplSysfsPath(dir))
		assert.False(t, p.Available())
	})
}

func TestRaplPluginMeasurement(t *testing.T) {
	dir := t.TempDir()
	writeSysfsFixture(t, dir, map[string]map[string]string{
		"intel-rapl:0": {
			"name":                "package-0\n",
			"energy_uj":           "2000000\n",
			"max_energy_range_uj": "262143328850\n",
		},
		"intel-rapl:0:0": {
			"name":                "core\n",
			"energy_uj":           "500000\n",
			"max_energy_range_uj": "262143328850\n",
		},
	})

	p := NewRaplPlugin(WithRaplSysfsPath(dir))
	require.NoError(t, p.Init())

	m, err := p.GetMeasurement()
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "rapl", m.Source)
	// package zone is the primary figure; breakdown keys carry the
	// per-name zone index
	assert.InDelta(t, 2.0, m.Joules, 1e-9)
	assert.InDelta(t, 2.0, m.Breakdown["package-0-0"], 1e-9)
	assert.InDelta(t, 0.5, m.Breakdown["core-0"], 1e-9)

	require.NoError(t, p.Shutdown())
	_, err = p.GetMeasurement()
	assert.Error(t, err, "measurements after shutdown must fail")
}

func TestRaplPluginInitWithoutZones(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "class", "powercap"), 0o755))

	p := NewRaplPlugin(WithRaplSysfsPath(dir))
	assert.Error(t, p.Init())
}
