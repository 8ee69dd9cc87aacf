// Package logging sets up the structured loggers shared by every subsystem.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger handed to each subsystem. It wraps a
// logrus.Entry pre-tagged with the owning module's name so every line it
// emits is attributable without repeating the tag at each call site.
type Logger struct {
	*logrus.Entry
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the verbosity of every logger obtained from For.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
}

// For returns a module-scoped logger, e.g. logging.For("scheduler").
func For(module string) *Logger {
	return &Logger{base.WithField("module", module)}
}
