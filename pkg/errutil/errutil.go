// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package errutil bridges oops errors and structured logging.
package errutil

import (
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string. Context keys that look
// like credentials are dropped: nothing resembling a password or hash
// may reach a log line.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := redactContext(oopsErr.Context()); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
	} else {
		logger.Error(msg, "error", err)
	}
}

// Code returns the oops code attached to err, or "" for plain errors.
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// redactContext strips credential-shaped keys from oops context.
func redactContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "password") || strings.Contains(lower, "hash") || strings.Contains(lower, "secret") {
			continue
		}
		out[k] = v
	}
	return out
}
