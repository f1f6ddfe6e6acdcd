// Copyright (c) 2023, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logx

import (
	"image/color"
	"log/slog"

	"github.com/muesli/termenv"
)

var (
	// UseColor is whether to use color in log messages printed by the
	// Print family of functions. It is on by default. GPU-emitted
	// diagnostics never go through this path, so it has no effect on
	// anything forwarded to a host LogCallback.
	UseColor = true
)

// colorProfile is the termenv color profile, stored globally for convenience.
var colorProfile termenv.Profile

// InitColor sets up the terminal environment for color output. Call this
// once before using the Print family if a prior system command may have
// reset the terminal's virtual processing mode.
func InitColor() {
	restoreFunc, err := termenv.EnableVirtualTerminalProcessing(termenv.DefaultOutput())
	if err != nil {
		slog.Warn("enabling virtual terminal processing for colored output failed", "err", err)
	}
	_ = restoreFunc
	colorProfile = termenv.ColorProfile()
}

// ApplyColor applies clr to str and returns the result. If UseColor is
// false, str is returned unchanged.
func ApplyColor(clr color.Color, str string) string {
	if !UseColor {
		return str
	}
	return termenv.String(str).Foreground(colorProfile.FromColor(clr)).String()
}

var (
	debugRGBA   = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
	warnRGBA    = color.RGBA{R: 0xd9, G: 0x8e, B: 0x1b, A: 0xff}
	errorRGBA   = color.RGBA{R: 0xd3, G: 0x2f, B: 0x2f, A: 0xff}
	successRGBA = color.RGBA{R: 0x2e, G: 0x9e, B: 0x4d, A: 0xff}
	cmdRGBA     = color.RGBA{R: 0x3f, G: 0x6f, B: 0xd9, A: 0xff}
	titleRGBA   = color.RGBA{R: 0xd9, G: 0x8e, B: 0x1b, A: 0xff}
)

// LevelColor applies the color associated with level to str.
func LevelColor(level slog.Level, str string) string {
	switch level {
	case slog.LevelDebug:
		return DebugColor(str)
	case slog.LevelInfo:
		return InfoColor(str)
	case slog.LevelWarn:
		return WarnColor(str)
	case slog.LevelError:
		return ErrorColor(str)
	}
	return str
}

// DebugColor applies the debug-level color to str.
func DebugColor(str string) string { return ApplyColor(debugRGBA, str) }

// InfoColor returns str unchanged; info has no distinct color.
func InfoColor(str string) string { return str }

// WarnColor applies the warn-level color to str.
func WarnColor(str string) string { return ApplyColor(warnRGBA, str) }

// ErrorColor applies the error-level color to str.
func ErrorColor(str string) string { return ApplyColor(errorRGBA, str) }

// SuccessColor applies the success color to str.
func SuccessColor(str string) string { return ApplyColor(successRGBA, str) }

// CmdColor applies the color used for commands and arguments to str.
func CmdColor(str string) string { return ApplyColor(cmdRGBA, str) }

// TitleColor applies the color used for titles and section headers to str.
func TitleColor(str string) string { return ApplyColor(titleRGBA, str) }
