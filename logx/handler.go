// Copyright (c) 2023, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logx

import (
	"context"
	"fmt"
	"log/slog"
)

// Callback is the host-owned sink vkguard's internal diagnostics are
// forwarded to: a log_callback(severity, file, line, msg) hook, gated
// by a configured SeverityMask before it ever reaches here.
type Callback func(severity Severity, file string, line int, msg string)

// CallbackHandler is an slog.Handler that forwards records whose
// severity bit is set in its mask to a host Callback instead of writing them anywhere itself.
// vkguard installs one of these as the handler behind its package
// logger whenever a host supplies a log_callback; with no callback
// configured, records are simply dropped (the host opted out of
// diagnostics).
type CallbackHandler struct {
	mask  SeverityMask
	cb    Callback
	attrs []slog.Attr
}

// NewCallbackHandler returns a handler that forwards records whose
// severity is set in mask to cb.
func NewCallbackHandler(mask SeverityMask, cb Callback) *CallbackHandler {
	return &CallbackHandler{mask: mask, cb: cb}
}

// Enabled implements slog.Handler.
func (h *CallbackHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.cb != nil && h.mask.Has(severityFromSlog(level))
}

// Handle implements slog.Handler, forwarding r to the configured
// Callback. The "file"/"line" the host sees come from the record's
// source attrs when present, falling back to "" / 0.
func (h *CallbackHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityFromSlog(r.Level)
	if !h.mask.Has(sev) {
		return nil
	}
	file, line := "", 0
	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "file":
			file = a.Value.String()
		case "line":
			line = int(a.Value.Int64())
		}
		return true
	})
	for _, a := range h.attrs {
		if a.Key == "file" {
			file = a.Value.String()
		}
	}
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		msg = fmt.Sprintf("%s %s", msg, formatAttrs(h.attrs, r))
	}
	h.cb(sev, file, line, msg)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *CallbackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &CallbackHandler{mask: h.mask, cb: h.cb}
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return n
}

// WithGroup implements slog.Handler. vkguard's records are flat, so
// groups are not specially namespaced; attributes are still included.
func (h *CallbackHandler) WithGroup(_ string) slog.Handler {
	return h
}

func formatAttrs(base []slog.Attr, r slog.Record) string {
	s := ""
	for _, a := range base {
		if a.Key == "file" {
			continue
		}
		s += fmt.Sprintf("%s=%v ", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "file" || a.Key == "line" {
			return true
		}
		s += fmt.Sprintf("%s=%v ", a.Key, a.Value)
		return true
	})
	return s
}

// Default is the package logger the rest of vkguard logs through. It
// starts with no handler installed (records dropped) until SetCallback
// is called.
var Default = slog.New(discardHandler{})

// SetCallback installs a CallbackHandler on Default forwarding records
// matching mask to cb. Passing a nil cb reverts to discarding records.
func SetCallback(mask SeverityMask, cb Callback) {
	if cb == nil {
		Default = slog.New(discardHandler{})
		return
	}
	Default = slog.New(NewCallbackHandler(mask, cb))
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
