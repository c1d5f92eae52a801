package conf

import (
	"fmt"

	"github.com/bluenviron/rtspcamd/internal/logger"
)

// LogLevel is the logLevel configuration key. It's a plain string
// underneath (not an int) so that internal/confenv's reflection-based env
// override, which special-cases string/int/bool by kind, applies the same
// way whether the value comes from YAML or from an environment variable.
type LogLevel string

// UnmarshalYAML implements yaml.Unmarshaler, validating the level name.
func (l *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var in string
	if err := unmarshal(&in); err != nil {
		return err
	}
	if _, err := levelFromString(in); err != nil {
		return err
	}
	*l = LogLevel(in)
	return nil
}

// Level converts the configured name to a logger.Level, defaulting to Info
// for an unset value.
func (l LogLevel) Level() logger.Level {
	if l == "" {
		return logger.Info
	}
	lvl, err := levelFromString(string(l))
	if err != nil {
		return logger.Info
	}
	return lvl
}

func levelFromString(in string) (logger.Level, error) {
	switch in {
	case "error":
		return logger.Error, nil
	case "warn":
		return logger.Warn, nil
	case "info":
		return logger.Info, nil
	case "debug":
		return logger.Debug, nil
	default:
		return 0, fmt.Errorf("invalid log level: '%s'", in)
	}
}
