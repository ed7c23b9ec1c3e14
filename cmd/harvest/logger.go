package main

import (
	"io"
	"log/slog"

	"github.com/use-agent/harvest/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// initLogger configures slog based on the LogConfig. Logs go to w and, when
// cfg.File is set, also to a size-rotated file. The returned func closes the
// file.
func initLogger(cfg config.LogConfig, w io.Writer) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	closer := func() {}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = io.MultiWriter(w, file)
		closer = func() { _ = file.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return closer
}
