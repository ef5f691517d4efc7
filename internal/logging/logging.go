// Package logging builds the logrus logger that the store hands to its
// writers and to the upload endpoint and session. The allocator does not log.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus entry configured for the given textual level
// ("debug", "info", "warn", "error"); an unrecognised level falls back to
// info.
func New(level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logrus.NewEntry(logger)
}
