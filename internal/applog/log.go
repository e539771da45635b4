// Package applog sets up structured logging for the core, following the
// development/production logger split used elsewhere in the corpus.
package applog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// New returns a logger entry tagged with the running component name.
// Debug controls whether a development logger (text formatter, file
// output under logDir) or a production logger (JSON formatter at Error
// level, with all output discarded) is built.
func New(component string, debug bool, logDir string) *logrus.Entry {
	var log *logrus.Logger
	if debug || os.Getenv("APT_DEBUG") == "1" {
		log = newDevelopmentLogger(logDir)
	} else {
		log = newProductionLogger()
	}
	return log.WithFields(logrus.Fields{"component": component})
}

func level() logrus.Level {
	lvl, err := logrus.ParseLevel(os.Getenv("APT_LOG_LEVEL"))
	if err != nil {
		return logrus.DebugLevel
	}
	return lvl
}

func newDevelopmentLogger(logDir string) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level())
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if logDir == "" {
		return log
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Out = os.Stderr
		return log
	}
	f, err := os.OpenFile(filepath.Join(logDir, "apt-core.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Out = os.Stderr
		return log
	}
	log.SetOutput(f)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log
}
