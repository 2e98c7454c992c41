package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	m := NewManagerAt(filepath.Join(t.TempDir(), "config.json"))
	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 6, s.DisplayTime)
	assert.Equal(t, protocol.PositionCenter, s.Position)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	m := NewManagerAt(path)

	want := DefaultSettings()
	want.DisplayTime = 9
	want.Position = protocol.PositionTopLeft
	want.Upscale = true
	require.NoError(t, m.Save(want))

	got, err := NewManagerAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadRepairsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"displayTime": 40, "position": "middle", "loadTimeout": -1}`), 0644))

	s, err := NewManagerAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 12, s.DisplayTime)
	assert.Equal(t, protocol.PositionCenter, s.Position)
	assert.Equal(t, 10, s.LoadTimeout)
}

func TestLoadNormalizesRelayBase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"host and port", "192.168.1.5:3000", "http://192.168.1.5:3000"},
		{"secure websocket", "wss://flash.example.com/", "https://flash.example.com"},
		{"unsupported scheme", "ftp://flash.example.com", ""},
		{"unset", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(`{"relayBase": "`+tt.in+`"}`), 0644))

			s, err := NewManagerAt(path).Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.RelayBase)
		})
	}
}

func TestLoadInvalidJSONGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	s, err := NewManagerAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestConfigDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg", "goflash"), dir)
}
