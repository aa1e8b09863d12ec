package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"vdisk/pkg/models"
)

type Logger struct {
	zl           zerolog.Logger
	file         *os.File
	debugEnabled bool
}

// NewLogger writes human-readable lines to stderr and JSON lines to the log
// file, depending on cfg. Colour is used only when stderr is a terminal.
func NewLogger(cfg *models.LogConfig) (*Logger, error) {
	var writers []io.Writer

	if cfg.ToConsole {
		console := zerolog.ConsoleWriter{
			Out:        colorable.NewColorableStderr(),
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
			TimeFormat: time.TimeOnly,
		}
		if cfg.Prefix != "" {
			prefix := cfg.Prefix
			console.FormatMessage = func(i interface{}) string {
				if i == nil {
					return prefix
				}
				return fmt.Sprintf("%s %s", prefix, i)
			}
		}
		writers = append(writers, console)
	}

	var file *os.File
	if cfg.ToFile {
		if cfg.FilePath == "" {
			cfg.FilePath = "vdisk.log"
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}

		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		writers = append(writers, f)
	}

	level := zerolog.InfoLevel
	if cfg.DebugEnabled {
		level = zerolog.DebugLevel
	}

	zl := zerolog.Nop()
	if len(writers) > 0 {
		zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	}

	return &Logger{
		zl:           zl,
		file:         file,
		debugEnabled: cfg.DebugEnabled,
	}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l *Logger) Debug(msg string) {
	if l.debugEnabled {
		l.zl.Debug().Msg(msg)
	}
}

func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Op logs the outcome of a storage operation with its disk and file as
// fields, at error level when err is set.
func (l *Logger) Op(op, disk, file string, elapsed time.Duration, err error) {
	ev := l.zl.Info()
	if err != nil {
		ev = l.zl.Error().Err(err)
	}
	ev = ev.Str("op", op).Str("disk", disk).Dur("elapsed", elapsed)
	if file != "" {
		ev = ev.Str("file", file)
	}
	ev.Msg(op)
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
