package config

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets the level, formatter and output of the standard
// logrus logger. A nil out keeps the current output.
func ConfigureLogging(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch format {
	case LogFormatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case LogFormatText, "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, format)
	}

	logrus.SetLevel(lvl)
	if out != nil {
		logrus.SetOutput(out)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ConfigureLogging",
		"level":    lvl.String(),
		"format":   format,
	}).Debug("Logging configured")

	return nil
}
