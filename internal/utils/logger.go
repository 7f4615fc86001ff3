package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var baseLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogger configura o logger global. format aceita "json" ou "console".
func InitLogger(service, level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	baseLogger = out.Level(lvl).With().Timestamp().Str("service", service).Logger()
}

// Logger devolve o logger base para quem precisa de campos estruturados.
func Logger() *zerolog.Logger {
	return &baseLogger
}

// WALogger adapta o logger base para o formato esperado pelo whatsmeow.
func WALogger(module string) waLog.Logger {
	return waLog.Zerolog(baseLogger.With().Str("module", module).Logger())
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func LogDebug(format string, v ...interface{}) {
	evt := baseLogger.Debug()
	if !evt.Enabled() {
		return
	}
	evt.Str("caller", caller()).Msgf(format, v...)
}

func LogInfo(format string, v ...interface{}) {
	baseLogger.Info().Msgf(format, v...)
}

func LogError(format string, v ...interface{}) {
	baseLogger.Error().Str("caller", caller()).Msgf(format, v...)
}

func LogWarning(format string, v ...interface{}) {
	baseLogger.Warn().Str("caller", caller()).Msgf(format, v...)
}

func TimeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	LogDebug("%s levou %s", name, elapsed)
}
