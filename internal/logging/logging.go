// Package logging builds the process logger: free-text lines appended to a
// file named after the current date, optionally mirrored to stdout.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/emotion-api/internal/config"
)

// FilePattern is the strftime pattern of the daily log file.
const FilePattern = "emotion_api_%Y%m%d.log"

// FileName returns the log file name for the given day.
func FileName(day time.Time) string {
	return "emotion_api_" + day.Format("20060102") + ".log"
}

// New returns a logger writing to a daily-rotating file in cfg.Dir. The
// returned closer releases the file handle.
func New(cfg config.LoggerConfig) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(24 * time.Hour),
		rotatelogs.WithClock(rotatelogs.Local),
	}
	if cfg.Retention > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(cfg.Retention))
	}
	file, err := rotatelogs.New(filepath.Join(cfg.Dir, FilePattern), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.New()
	var out io.Writer = file
	if cfg.Stdout {
		out = io.MultiWriter(os.Stdout, file)
	}
	logger.SetOutput(out)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&LineFormatter{})
	}

	return logger, file, nil
}
