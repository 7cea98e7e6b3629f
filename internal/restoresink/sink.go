// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package restoresink replaces the source's three process-global
// filtered output streams (err/info/debug FilteredNdbOut instances)
// with a caller-supplied sink passed explicitly into every reader, per
// the source's own DESIGN NOTES. There is no package-level state here.
package restoresink

import (
	"context"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Sink is the logging interface readers accept. Callers may pass any
// implementation; NewSlog wraps log/slog for the common case.
type Sink interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// slogSink adapts a *slog.Logger to Sink.
type slogSink struct {
	logger *slog.Logger
}

// NewSlog wraps logger as a Sink. A nil logger falls back to
// slog.Default().
func NewSlog(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogSink{logger: logger}
}

func (s *slogSink) Info(msg string, args ...any)  { s.logger.InfoContext(context.Background(), msg, args...) }
func (s *slogSink) Debug(msg string, args ...any) { s.logger.DebugContext(context.Background(), msg, args...) }
func (s *slogSink) Error(msg string, args ...any) { s.logger.ErrorContext(context.Background(), msg, args...) }

// NewOTelFanout wraps servicename's logs in a handler that fans out to
// both stdout text output and the OTel log bridge, mirroring what a
// restore run's surrounding service does when OTLP export is enabled.
// debug raises the text handler's level the same way the source's
// DEBUG/LAKERUNNER_DEBUG environment switches do.
func NewOTelFanout(servicename string, debug bool) Sink {
	var opts *slog.HandlerOptions
	if debug {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	logger := slog.New(slogmulti.Fanout(
		slog.NewTextHandler(os.Stdout, opts),
		otelslog.NewHandler(servicename),
	)).With(slog.String("service", servicename))
	return &slogSink{logger: logger}
}

// Noop discards every message. Useful in tests that don't want to
// assert on log output.
var Noop Sink = noopSink{}

type noopSink struct{}

func (noopSink) Info(string, ...any)  {}
func (noopSink) Debug(string, ...any) {}
func (noopSink) Error(string, ...any) {}
