// Command rtspcamd is a native RTSP streaming server for IP cameras: it
// reads a camera's raw feed through ffmpeg, repackages the resulting H.264
// Annex-B stream into RTP, and serves it to any standard RTSP client.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/bluenviron/rtspcamd/internal/integration"
)

var version = "v0.0.0"

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:"rtspcamd.yml"`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Description("rtspcamd "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is rtspcamd.yml."
			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	p, err := integration.New(cli.Confpath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %s\n", err)
		os.Exit(1)
	}

	p.Wait()
}
