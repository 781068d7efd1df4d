// Package logging provides the diagnostic logger used across the archiver,
// with credential sanitization on every string field.
package logging

import (
	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
	"github.com/olegiv/evtx-archiver/pkg/logger"
	"github.com/rs/zerolog"
)

// SecureLogger is the diagnostics logger handed to every component. Strings,
// messages and errors go through the credential redactor before they are
// written, so a bot token or proxy password never reaches a log file.
type SecureLogger struct {
	base *logger.Logger
}

// NewSecure wraps base.
func NewSecure(base *logger.Logger) *SecureLogger {
	return &SecureLogger{base: base}
}

// Nop returns a SecureLogger that discards everything.
func Nop() *SecureLogger {
	return &SecureLogger{base: logger.Nop()}
}

func (s *SecureLogger) Debug() *SecureEvent { return s.at(zerolog.DebugLevel) }

func (s *SecureLogger) Info() *SecureEvent { return s.at(zerolog.InfoLevel) }

func (s *SecureLogger) Warn() *SecureEvent { return s.at(zerolog.WarnLevel) }

func (s *SecureLogger) Error() *SecureEvent { return s.at(zerolog.ErrorLevel) }

// at starts an event; below the configured level the event is nil and every
// method on it is a no-op.
func (s *SecureLogger) at(level zerolog.Level) *SecureEvent {
	return &SecureEvent{e: s.base.WithLevel(level)}
}

// Close flushes and closes the log file.
func (s *SecureLogger) Close() error {
	return s.base.Close()
}

// SecureEvent is a zerolog event restricted to sanitized fields.
type SecureEvent struct {
	e *zerolog.Event
}

func (ev *SecureEvent) Str(key, val string) *SecureEvent {
	ev.e.Str(key, internalerrors.SanitizeString(val))
	return ev
}

func (ev *SecureEvent) Strs(key string, vals []string) *SecureEvent {
	clean := make([]string, len(vals))
	for i, v := range vals {
		clean[i] = internalerrors.SanitizeString(v)
	}
	ev.e.Strs(key, clean)
	return ev
}

func (ev *SecureEvent) Int(key string, val int) *SecureEvent {
	ev.e.Int(key, val)
	return ev
}

func (ev *SecureEvent) Int64(key string, val int64) *SecureEvent {
	ev.e.Int64(key, val)
	return ev
}

func (ev *SecureEvent) Bool(key string, val bool) *SecureEvent {
	ev.e.Bool(key, val)
	return ev
}

// Err adds err under the "error" key; nil is skipped.
func (ev *SecureEvent) Err(err error) *SecureEvent {
	if err != nil {
		ev.e.Err(internalerrors.SanitizeError(err))
	}
	return ev
}

// Msg writes the event.
func (ev *SecureEvent) Msg(msg string) {
	ev.e.Msg(internalerrors.SanitizeString(msg))
}
