package conf

import (
	"fmt"

	"github.com/bluenviron/rtspcamd/internal/logger"
)

// LogDestinations is the logDestinations configuration key: a list of
// "stdout" and/or "file".
type LogDestinations []string

// Destinations converts the configured names into logger.Destination
// values, defaulting to stdout-only when unset.
func (d LogDestinations) Destinations() ([]logger.Destination, error) {
	if len(d) == 0 {
		return []logger.Destination{logger.DestinationStdout}, nil
	}

	out := make([]logger.Destination, 0, len(d))
	for _, name := range d {
		switch name {
		case "stdout":
			out = append(out, logger.DestinationStdout)
		case "file":
			out = append(out, logger.DestinationFile)
		default:
			return nil, fmt.Errorf("invalid log destination: '%s'", name)
		}
	}
	return out, nil
}
