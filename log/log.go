// Package log provides logging utilities for the module.
//
// All components accept a [*slog.Logger] through their options and fall back
// to [Default]. Use [SetDefault] to change the module-wide fallback, or
// [Noop] to silence a single component.
package log

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.Conn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
			slog.Any("remote_addr", c.RemoteAddr()),
		)
	}),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
)

// Console returns a logger with a human-readable console handler.
func Console(lvl slog.Level) *slog.Logger {
	return slog.New(newHandler(
		console.NewHandler(os.Stdout, &console.HandlerOptions{
			AddSource:  true,
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// Dev returns a logger with a developer-friendly handler.
func Dev(lvl slog.Level) *slog.Logger {
	return slog.New(newHandler(
		devslog.NewHandler(os.Stdout, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     lvl,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

var defLogger atomic.Pointer[slog.Logger]

func init() {
	defLogger.Store(Console(slog.LevelInfo))
}

// Default returns the module-wide default logger.
func Default() *slog.Logger { return defLogger.Load() }

// SetDefault replaces the module-wide default logger.
// A nil logger resets it to the console logger.
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Console(slog.LevelInfo)
	}
	defLogger.Store(l)
}
