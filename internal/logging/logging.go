package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
	DefaultCompress   = true

	timeFormat = "2006-01-02 15:04:05"
)

// Options configures the global logger
type Options struct {
	// Level is trace, debug, info, warn or error; anything else means info
	Level string `json:"level" yaml:"level"`

	// File enables a rotating log file next to console output
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   *bool  `json:"compress" yaml:"compress"`

	// Console receives human-readable output; nil means stderr
	Console io.Writer `json:"-" yaml:"-"`
}

// Apply sets the global log level and output writers (console + rotating
// file). The returned closer releases the log file.
func Apply(opts Options) io.Closer {
	applyLevel(opts.Level)
	return applyOutputs(opts)
}

func applyLevel(level string) {
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func applyOutputs(opts Options) io.Closer {
	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	consoleOutput := zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	log.Logger = zerolog.New(consoleOutput).With().Timestamp().Logger()

	if opts.File == "" {
		return nopCloser{}
	}
	if err := ensureLogDir(opts.File); err != nil {
		log.Error().Err(err).Str("path", opts.File).Msg("Failed to prepare log directory; logging to console only")
		return nopCloser{}
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    positiveOr(opts.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: positiveOr(opts.MaxBackups, DefaultMaxBackups),
		MaxAge:     positiveOr(opts.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   DefaultCompress,
	}
	if opts.Compress != nil {
		fileWriter.Compress = *opts.Compress
	}

	fileConsole := zerolog.ConsoleWriter{
		Out:        fileWriter,
		TimeFormat: timeFormat,
		NoColor:    true,
	}

	multi := zerolog.MultiLevelWriter(consoleOutput, fileConsole)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return fileWriter
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// FilePathFor returns a log file path that lives alongside a database file
func FilePathFor(dbPath, name string) string {
	if dbPath == "" {
		return name
	}
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return filepath.Join(filepath.Dir(dbPath), name)
	}
	return filepath.Join(filepath.Dir(absDBPath), name)
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
