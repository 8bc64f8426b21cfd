package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Global represents ~/.meshtalk/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile represents a per-profile profile.toml. PeerID and Nickname identify
// the local peer on the mesh; PeerID is minted on first run and never changes.
type Profile struct {
	PeerID   string `toml:"peer_id"`
	Nickname string `toml:"nickname"`

	Limits   Limits   `toml:"limits"`
	Delivery Delivery `toml:"delivery"`
	Inbound  Inbound  `toml:"inbound"`
	Metrics  Metrics  `toml:"metrics"`
}

// Limits are the boundary constants enforced before any persistence.
type Limits struct {
	MaxGroupParticipants int   `toml:"max_group_participants"`
	MaxMessageLength     int   `toml:"max_message_length"`
	MaxImageSize         int64 `toml:"max_image_size"`
}

// Delivery controls the outbound retry queue.
type Delivery struct {
	MaxAttempts    int      `toml:"max_attempts"`
	Tick           Duration `toml:"tick"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
}

// Inbound controls the per-sender rate limit applied before reconciliation.
type Inbound struct {
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// Metrics configures the optional Prometheus listener. Empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Duration wraps time.Duration so TOML values can be written as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultProfile returns a profile config with all tunables at their defaults.
func DefaultProfile() *Profile {
	return &Profile{
		Limits: Limits{
			MaxGroupParticipants: 16,
			MaxMessageLength:     4096,
			MaxImageSize:         5 << 20,
		},
		Delivery: Delivery{
			MaxAttempts:    3,
			Tick:           Duration{5 * time.Second},
			AttemptTimeout: Duration{10 * time.Second},
		},
		Inbound: Inbound{
			Rate:  20,
			Burst: 40,
		},
	}
}

// LoadGlobal reads the global config from path.
func LoadGlobal(path string) (*Global, error) {
	var cfg Global
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveGlobal writes the global config to path, creating parent dirs as needed.
func SaveGlobal(path string, cfg *Global) error {
	return save(path, cfg)
}

// LoadProfile reads a profile config from path. A missing file yields the
// defaults; a present file is decoded over the defaults so partial configs work.
func LoadProfile(path string) (*Profile, error) {
	cfg := DefaultProfile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveProfile writes a profile config to path, creating parent dirs as needed.
func SaveProfile(path string, cfg *Profile) error {
	return save(path, cfg)
}

func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
