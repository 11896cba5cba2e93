// Package logx wraps zerolog behind a small structured-logging API with
// runtime-swappable sinks (console, file). Components take a logx.Logger
// by value; the zero value is a safe no-op.
package logx
