package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Verbose enables debug output when true
var Verbose bool

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		PadLevelText:     true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbose toggles debug logging.
func SetVerbose(v bool) {
	Verbose = v
	if v {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// Logger returns the shared logger so callers can attach fields.
func Logger() *logrus.Logger {
	return log
}

// Debugf prints debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		log.Debugf(format, args...)
	}
}

func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

// WithFields returns an entry carrying structured context, e.g. the session id.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}
