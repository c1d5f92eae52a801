// Package conf contains the struct that holds the configuration of the
// software, loaded from YAML with environment-variable overrides, in the
// style of the teacher's internal/conf package scaled down to this
// server's much smaller configuration surface (§6).
package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bluenviron/rtspcamd/internal/confenv"
)

// Conf is the top-level configuration.
type Conf struct {
	// General / ambient, carried regardless of spec.md's Non-goals (see
	// SPEC_FULL.md §A.1).
	LogLevel        LogLevel        `yaml:"logLevel"`
	LogDestinations LogDestinations `yaml:"logDestinations"`
	LogFile         string          `yaml:"logFile"`

	// RTSP server (§6).
	RTSPEnabled  bool   `yaml:"rtspEnabled"`
	RTSPPort     int    `yaml:"rtspPort"`
	RTSPListen   string `yaml:"rtspListen"`
	RTSPUsername string `yaml:"rtspUsername"`
	RTSPPassword string `yaml:"rtspPassword"`

	// SessionTimeout is the idle timeout before a session is swept (§4.5,
	// §5 — default 60s).
	SessionTimeout StringDuration `yaml:"sessionTimeout"`

	Cameras []Camera `yaml:"cameras"`
}

// Default returns the configuration's zero-value-safe defaults, applied
// before a file/env override, mirroring the teacher's pattern of seeding a
// Conf with defaults before unmarshaling over it.
func Default() Conf {
	return Conf{
		LogLevel:        "info",
		LogDestinations: LogDestinations{"stdout"},
		RTSPEnabled:     true,
		RTSPPort:        8554,
		RTSPListen:      "0.0.0.0",
		SessionTimeout:  StringDuration(60_000_000_000), // 60s, in time.Duration nanoseconds
	}
}

// Load reads and parses the configuration file at path, applying
// environment overrides under the RTSPCAMD_ env prefix afterward.
func Load(path string) (*Conf, error) {
	conf := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conf: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("conf: parsing %s: %w", path, err)
	}

	if err := confenv.Load("RTSPCAMD", &conf); err != nil {
		return nil, fmt.Errorf("conf: env overrides: %w", err)
	}

	if err := conf.sanitize(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// sanitize validates the camera list. An empty RTSPAudioDevice is left as
// the empty string: it means "auto-detect" (§4.3 audio device selection
// order) and this server never writes it back to the config file, so the
// source's "empty device crashes the config reader" trap doesn't apply here.
func (c *Conf) sanitize() error {
	for i := range c.Cameras {
		if c.Cameras[i].StreamID == "" {
			return fmt.Errorf("conf: camera at index %d is missing streamId", i)
		}
	}
	return nil
}
