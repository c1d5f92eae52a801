// Package logger contains the logging primitives shared by every component.
package logger

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Level is a logging level.
type Level int

// logging levels.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Destination is a place logs are written to.
type Destination int

// logging destinations.
const (
	DestinationStdout Destination = iota
	DestinationFile
)

// Writer is implemented by anything that can receive a log line.
// Components hold a Writer instead of a *Logger so that sessions, sources
// and connections can all prefix their own tag in front of the message.
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

type destination interface {
	log(t time.Time, level Level, format string, args ...interface{})
	close()
}

// Logger is the process-wide log handler.
type Logger struct {
	level        Level
	destinations []destination
	mutex        sync.Mutex
}

// New allocates a Logger.
func New(level Level, destinations []Destination, filePath string) (*Logger, error) {
	lh := &Logger{
		level: level,
	}

	for _, d := range destinations {
		switch d {
		case DestinationStdout:
			lh.destinations = append(lh.destinations, newDestinationStdout())

		case DestinationFile:
			dest, err := newDestinationFile(filePath)
			if err != nil {
				lh.Close()
				return nil, err
			}
			lh.destinations = append(lh.destinations, dest)
		}
	}

	return lh, nil
}

// Close closes the logger and any open destination.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
}

// Log implements Writer.
func (lh *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lh.level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	t := time.Now()
	for _, dest := range lh.destinations {
		dest.log(t, level, format, args...)
	}
}

// https://golang.org/src/log/log.go#L78
func itoa(buf *bytes.Buffer, i int, wid int) {
	var b [20]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	b[bp] = byte('0' + i)
	buf.Write(b[bp:])
}

func writeTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	var tmp bytes.Buffer

	year, month, day := t.Date()
	itoa(&tmp, year, 4)
	tmp.WriteByte('/')
	itoa(&tmp, int(month), 2)
	tmp.WriteByte('/')
	itoa(&tmp, day, 2)
	tmp.WriteByte(' ')

	hour, min, sec := t.Clock()
	itoa(&tmp, hour, 2)
	tmp.WriteByte(':')
	itoa(&tmp, min, 2)
	tmp.WriteByte(':')
	itoa(&tmp, sec, 2)
	tmp.WriteByte(' ')

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), tmp.String()))
	} else {
		buf.Write(tmp.Bytes())
	}
}

func writeLevel(buf *bytes.Buffer, level Level, useColor bool) {
	switch level {
	case Debug:
		if useColor {
			buf.WriteString(color.RenderString(color.Debug.Code(), "DEB"))
		} else {
			buf.WriteString("DEB")
		}

	case Warn:
		if useColor {
			buf.WriteString(color.RenderString(color.Warn.Code(), "WAR"))
		} else {
			buf.WriteString("WAR")
		}

	case Error:
		if useColor {
			buf.WriteString(color.RenderString(color.Error.Code(), "ERR"))
		} else {
			buf.WriteString("ERR")
		}

	default:
		if useColor {
			buf.WriteString(color.RenderString(color.Green.Code(), "INF"))
		} else {
			buf.WriteString("INF")
		}
	}
	buf.WriteByte(' ')
}

func writeLine(buf *bytes.Buffer, t time.Time, level Level, useColor bool, format string, args []interface{}) {
	writeTime(buf, t, useColor)
	writeLevel(buf, level, useColor)
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

type destinationStdout struct {
	useColor bool
	buf      bytes.Buffer
}

func newDestinationStdout() destination {
	fi, _ := os.Stdout.Stat()
	return &destinationStdout{
		useColor: (fi.Mode() & os.ModeCharDevice) != 0,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	writeLine(&d.buf, t, level, d.useColor, format, args)
	os.Stdout.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {}

type destinationFile struct {
	file *os.File
	buf  bytes.Buffer
}

func newDestinationFile(filePath string) (destination, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &destinationFile{file: f}, nil
}

func (d *destinationFile) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	writeLine(&d.buf, t, level, false, format, args)
	d.file.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationFile) close() {
	d.file.Close() //nolint:errcheck
}
