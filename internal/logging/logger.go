package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// secretKeys are attribute names whose values never reach the log output.
var secretKeys = map[string]struct{}{
	"k0": {}, "k1": {}, "k2": {}, "k3": {}, "k4": {},
	"pin":           {},
	"pin_hash":      {},
	"password":      {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
}

const redacted = "[REDACTED]"

// New creates a slog logger configured at the provided level. Development
// environments get human-readable text output, everything else JSON. If the
// level string is invalid it defaults to info.
func New(level string, dev bool) *slog.Logger {
	return newLogger(os.Stdout, level, dev)
}

func newLogger(w io.Writer, level string, dev bool) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: redact}

	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// redact blanks key material and credentials. A short "k1" is a session id
// prefix and passes through.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if _, ok := secretKeys[key]; !ok {
		return a
	}
	if key == "k1" && len(a.Value.String()) <= 12 {
		return a
	}
	return slog.String(a.Key, redacted)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
