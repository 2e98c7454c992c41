package relay

import (
	"time"

	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Config holds relay settings
type Config struct {
	Addr      string // listen address, e.g. ":3000"
	Key       string // shared key every session must present
	JWTSecret string // signs upload tokens; random when empty
	TokenTTL  time.Duration
	Version   string // relay protocol version, checked against clients

	// PublicURL, when set, makes announced image URLs absolute
	PublicURL string
	// PathTemplate builds image paths from {id} and {ext}; the result must
	// stay under protocol.ImagePrefix to be served
	PathTemplate string

	MaxUploadSize int64
	ImageTTL      time.Duration
	AuthTimeout   time.Duration

	Redis RedisConfig
}

// RedisConfig selects the redis image store. An empty Addr keeps images in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DefaultConfig returns a config that works on a LAN out of the box
func DefaultConfig() Config {
	return Config{
		Addr:          ":3000",
		TokenTTL:      24 * time.Hour,
		Version:       protocol.ClientVersion,
		PathTemplate:  protocol.ImagePrefix + "{id}{ext}",
		MaxUploadSize: 20 << 20,
		ImageTTL:      time.Hour,
		AuthTimeout:   10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = d.TokenTTL
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.PathTemplate == "" {
		c.PathTemplate = d.PathTemplate
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = d.MaxUploadSize
	}
	if c.ImageTTL <= 0 {
		c.ImageTTL = d.ImageTTL
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	return c
}
