// Package logger configures logrus for the queue worker. Lines are
// emitted as "LEVEL: message"; WARNING, ERROR and FATAL go to stderr,
// INFO and DEBUG to stdout. Debug output is off unless requested.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// levelNames maps logrus levels onto the worker's log line prefixes.
var levelNames = map[logrus.Level]string{
	logrus.DebugLevel: "DEBUG",
	logrus.InfoLevel:  "INFO",
	logrus.WarnLevel:  "WARNING",
	logrus.ErrorLevel: "ERROR",
	logrus.FatalLevel: "FATAL",
	logrus.PanicLevel: "FATAL",
}

type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	line := levelNames[entry.Level] + ": " + entry.Message

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == logrus.ErrorKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, entry.Data[k])
	}
	if err, ok := entry.Data[logrus.ErrorKey]; ok {
		line += fmt.Sprintf(": %v", err)
	}
	return []byte(line + "\n"), nil
}

// streamHook routes entries to stderr or stdout by severity.
type streamHook struct{}

func (h *streamHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *streamHook) Fire(entry *logrus.Entry) error {
	var out io.Writer
	switch entry.Level {
	case logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		out = os.Stderr
	default:
		out = os.Stdout
	}
	data, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Init sets up the formatter and stream routing. Call once at startup.
func Init(debug bool) {
	logrus.SetFormatter(&lineFormatter{})
	logrus.SetOutput(io.Discard)
	logrus.AddHook(&streamHook{})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Default returns a plain logger entry.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// WithCycle returns an entry tagged with a fresh cycle ID, so that all
// lines belonging to one dequeue cycle can be correlated.
func WithCycle() *logrus.Entry {
	id, _ := uuid.NewUUID()
	return logrus.WithField("cycle", id.String())
}
