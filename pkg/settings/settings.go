// Package settings persists user preferences for the control and viewer windows.
package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

const appDir = "goflash"

// UserSettings holds persistable user preferences
type UserSettings struct {
	DisplayTime  int               `json:"displayTime"`  // default seconds for new broadcasts
	Position     protocol.Position `json:"position"`     // default position for new broadcasts
	Upscale      bool              `json:"upscale"`      // viewers stretch small images to the size cap
	LoadTimeout  int               `json:"loadTimeout"`  // viewer image load timeout, seconds
	BridgeAddr   string            `json:"bridgeAddr"`   // loopback address shared with local viewers
	RelayBase    string            `json:"relayBase"`    // viewers resolve relative image URLs against this relay
	Editor       string            `json:"editor"`       // image editor command, empty uses $GOFLASH_EDITOR
	LastProfile  int               `json:"lastProfile"`  // index of the last used connection profile
	ScreenWidth  int               `json:"screenWidth"`  // logical screen size used for viewer placement
	ScreenHeight int               `json:"screenHeight"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		DisplayTime:  protocol.DefaultDisplayTime,
		Position:     protocol.PositionCenter,
		LoadTimeout:  10,
		BridgeAddr:   "127.0.0.1:3210",
		LastProfile:  -1,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}
}

// LoadTimeoutDuration converts LoadTimeout to a duration
func (s UserSettings) LoadTimeoutDuration() time.Duration {
	return time.Duration(s.LoadTimeout) * time.Second
}

// ConfigDir returns the directory holding goflash's files.
// Uses XDG_CONFIG_HOME if set, otherwise the platform user config dir.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, appDir), nil
}

// Manager handles loading and saving user settings
type Manager struct {
	path     string
	settings UserSettings
}

// NewManager creates a settings manager with the default config path
func NewManager() (*Manager, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(filepath.Join(dir, "config.json")), nil
}

// NewManagerAt creates a settings manager for an explicit file
func NewManagerAt(path string) *Manager {
	return &Manager{path: path, settings: DefaultSettings()}
}

// Path of the settings file
func (m *Manager) Path() string { return m.path }

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func (m *Manager) Load() (UserSettings, error) {
	m.settings = DefaultSettings()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m.settings, nil
		}
		return m.settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := sonic.Unmarshal(data, &m.settings); err != nil {
		m.settings = DefaultSettings()
		return m.settings, nil
	}

	m.validate()
	return m.settings, nil
}

// validate pulls loaded values back into range
func (m *Manager) validate() {
	d := DefaultSettings()
	m.settings.DisplayTime = protocol.ClampDisplayTime(float64(m.settings.DisplayTime))
	if p, err := protocol.ParsePosition(string(m.settings.Position)); err == nil {
		m.settings.Position = p
	} else {
		m.settings.Position = d.Position
	}
	if m.settings.LoadTimeout <= 0 {
		m.settings.LoadTimeout = d.LoadTimeout
	}
	if m.settings.RelayBase != "" {
		base, _, err := protocol.HTTPBaseURL(m.settings.RelayBase)
		if err != nil {
			base = ""
		}
		m.settings.RelayBase = base
	}
	if m.settings.BridgeAddr == "" {
		m.settings.BridgeAddr = d.BridgeAddr
	}
	if m.settings.ScreenWidth <= 0 || m.settings.ScreenHeight <= 0 {
		m.settings.ScreenWidth, m.settings.ScreenHeight = d.ScreenWidth, d.ScreenHeight
	}
}

// Save writes settings to the config file
func (m *Manager) Save(settings UserSettings) error {
	m.settings = settings

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

// Settings returns the current settings
func (m *Manager) Settings() UserSettings {
	return m.settings
}
