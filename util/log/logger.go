// Package log implements utility methods for logging in a colorful manner.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var showPid = false

func init() {
	if os.Getenv("FTSERVE_LOG_SHOW_PID") != "" {
		showPid = true
	}
}

// FancyLogFormatter is the default logger for ftserve.
type FancyLogFormatter struct {
	UseColors bool
}

var symbolTable = map[logrus.Level]string{
	logrus.DebugLevel: "⚙",
	logrus.InfoLevel:  "⚐",
	logrus.WarnLevel:  "⚠",
	logrus.ErrorLevel: "⚡",
	logrus.FatalLevel: "☣",
	logrus.PanicLevel: "☠",
}

var colorTable = map[logrus.Level]color.Attribute{
	logrus.DebugLevel: color.FgCyan,
	logrus.InfoLevel:  color.FgGreen,
	logrus.WarnLevel:  color.FgYellow,
	logrus.ErrorLevel: color.FgRed,
	logrus.FatalLevel: color.FgMagenta,
	logrus.PanicLevel: color.FgMagenta,
}

func colorByLevel(level logrus.Level, msg string) string {
	attr, ok := colorTable[level]
	if !ok {
		return msg
	}

	// color.NoColor is based on stdout only; we might log somewhere else.
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(msg)
}

func formatColored(useColors bool, buffer *bytes.Buffer, msg string, level logrus.Level) {
	if useColors {
		buffer.WriteString(colorByLevel(level, msg))
	} else {
		buffer.WriteString(msg)
	}
}

func formatTimestamp(builder *strings.Builder, t time.Time) {
	fmt.Fprintf(builder, "%02d.%02d.%04d", t.Day(), t.Month(), t.Year())
	builder.WriteByte('/')
	fmt.Fprintf(builder, "%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

func formatFields(useColors bool, buffer *bytes.Buffer, entry *logrus.Entry) {
	// Map iteration is random; keep the output stable.
	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	buffer.WriteString(" [")

	for idx, key := range keys {
		formatColored(useColors, buffer, key, entry.Level)
		buffer.WriteByte('=')

		switch v := entry.Data[key].(type) {
		case error:
			formatColored(useColors, buffer, v.Error(), logrus.ErrorLevel)
		default:
			buffer.WriteString(fmt.Sprintf("%v", v))
		}

		// Print no space after the last element:
		if idx != len(keys)-1 {
			buffer.WriteByte(' ')
		}
	}

	buffer.WriteByte(']')
}

func findCaller() (string, int, bool) {
	pcs := make([]uintptr, 25)
	nCallers := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:nCallers])

	for {
		frame, more := frames.Next()

		// Skip everything that belongs to logrus or to this package.
		if !strings.Contains(frame.Function, "sirupsen/logrus") &&
			!strings.Contains(frame.Function, "ftserve/util/log.") {
			tag := "ftserve/"
			if idx := strings.LastIndex(frame.File, tag); idx != -1 {
				return frame.File[idx+len(tag):], frame.Line, true
			}

			return filepath.Base(frame.File), frame.Line, frame.File != ""
		}

		if !more {
			break
		}
	}

	return "", 0, false
}

// Format logs a single entry according to our formatting ideas.
func (flf *FancyLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	prefixBuilder := strings.Builder{}
	formatTimestamp(&prefixBuilder, entry.Time)
	prefixBuilder.WriteByte(' ')

	// Add the symbol:
	prefixBuilder.WriteString(symbolTable[entry.Level])

	buffer := &bytes.Buffer{}
	if flf.UseColors {
		buffer.WriteString(colorByLevel(entry.Level, prefixBuilder.String()))
	} else {
		buffer.WriteString(prefixBuilder.String())
	}

	if showPid {
		// This helps to tell apart the output of several processes.
		buffer.WriteString(fmt.Sprintf(" [%d]", os.Getpid()))
	}

	if file, line, ok := findCaller(); ok {
		buffer.WriteString(fmt.Sprintf(" %s:%d:", file, line))
	}

	buffer.WriteByte(' ')
	buffer.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		formatFields(flf.UseColors, buffer, entry)
	}

	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

// IsTerminal tells if `w` is a file connected to a terminal.
func IsTerminal(w io.Writer) bool {
	fd, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(fd.Fd()) || isatty.IsCygwinTerminal(fd.Fd())
}

// SetLogPath makes logrus write to `path`, which is either
// "stdout", "stderr" or the path of a file that is appended to.
// Colors are only used when the output is a terminal.
func SetLogPath(path string) error {
	var out io.Writer

	switch path {
	case "stdout":
		out = os.Stdout
	case "", "stderr":
		out = os.Stderr
	default:
		fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "open log file")
		}

		out = fd
	}

	logrus.SetOutput(out)
	logrus.SetFormatter(&FancyLogFormatter{UseColors: IsTerminal(out)})
	return nil
}

// SetLevel parses and sets the logrus level.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "bad log level")
	}

	logrus.SetLevel(lvl)
	return nil
}
