package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitiles/tilelink/internal/position"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "", cfg.SerialPortPath())
	assert.Equal(t, 115200, cfg.Baud())
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "OmniTile_1", cfg.Device())
	assert.Equal(t, position.DefaultAnchors(), cfg.Anchors())

	m1, m2 := cfg.Actuators()
	assert.Equal(t, 150.0, m1.StrokeMM)
	assert.Equal(t, 13.0, m2.CarriageOffsetMM)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, `{"serial_port": "/dev/ttyUSB0"}`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPortPath())
		assert.Equal(t, 115200, cfg.Baud())
		assert.Equal(t, "OmniTile_1", cfg.Device())
	})

	t.Run("overrides apply", func(t *testing.T) {
		path := writeConfig(t, `{
			"baud_rate": 9600,
			"listen": ":9090",
			"device_name": "OmniTile_2",
			"anchor_ax_m": 2.5,
			"anchor_by_m": 4.0,
			"m1": {"stroke_mm": 200, "carriage_offset_mm": 5}
		}`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9600, cfg.Baud())
		assert.Equal(t, ":9090", cfg.ListenAddr())
		assert.Equal(t, "OmniTile_2", cfg.Device())
		assert.Equal(t, position.Anchors{AX: 2.5, BY: 4.0}, cfg.Anchors())

		m1, m2 := cfg.Actuators()
		assert.Equal(t, 200.0, m1.StrokeMM)
		assert.Equal(t, 5.0, m1.CarriageOffsetMM)
		assert.Equal(t, 20.0, m1.BufferBottomMM, "unset fields keep defaults")
		assert.Equal(t, 100.0, m2.StrokeMM)
	})

	t.Run("degenerate anchors fail at load time", func(t *testing.T) {
		path := writeConfig(t, `{"anchor_ax_m": 0}`)
		_, err := Load(path)
		assert.ErrorIs(t, err, position.ErrInvalidAnchorConfiguration)
	})

	t.Run("rejects non-json extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "console.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects invalid baud", func(t *testing.T) {
		path := writeConfig(t, `{"baud_rate": -1}`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
