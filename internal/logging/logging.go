package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBaseLogger()

func newBaseLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       false,
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})
	return logger
}

// NewLogger returns an entry tagged with the component name. Entries share
// one underlying logger, so Configure applies to loggers created earlier.
func NewLogger(component string) *logrus.Entry {
	return base.WithField("component", component)
}

func Configure(level string, output io.Writer) error {
	trimmed := strings.TrimSpace(level)
	if trimmed != "" {
		parsed, err := logrus.ParseLevel(trimmed)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		base.SetLevel(parsed)
	}
	if output != nil {
		base.SetOutput(output)
	}
	return nil
}
