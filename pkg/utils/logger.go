package utils

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создает zerolog-логгер с человекочитаемым выводом.
// Неизвестный уровень трактуется как info.
func NewLogger(levelStr string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
