// Package logger builds the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger at level that writes to stdout and, when file is
// set, appends to file as well. The returned func closes the file.
func New(level, file string) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	lvl := logrus.InfoLevel
	if level != "" {
		var err error
		lvl, err = logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	logger.SetLevel(lvl)
	logger.SetOutput(os.Stdout)

	closeFn := func() error { return nil }
	if file != "" {
		file = filepath.Clean(file)
		if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
		closeFn = f.Close
	}
	return logger, closeFn, nil
}
