// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// traceHandler wraps a slog.Handler to add service identity and trace
// context to every record.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// Options configures Setup.
type Options struct {
	// Format is "json" (default) or "text".
	Format string

	// Level defaults to slog.LevelInfo.
	Level slog.Leveler

	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// Setup creates a configured slog.Logger.
func Setup(service, version string, opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var baseHandler slog.Handler
	if opts.Format == "text" {
		baseHandler = slog.NewTextHandler(w, handlerOpts)
	} else {
		baseHandler = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(&traceHandler{
		handler: baseHandler,
		service: service,
		version: version,
	})
}

// SetDefault sets up and installs the default logger.
func SetDefault(service, version, format string) {
	slog.SetDefault(Setup(service, version, Options{Format: format}))
}
