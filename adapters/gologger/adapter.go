// Package gologger bridges log/slog to the glog contracts used across the
// module.
package gologger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// SlogLogger implements glog.Logger and glog.FieldsLogger on top of slog.
type SlogLogger struct {
	l   *slog.Logger
	ctx context.Context
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

// NewTextLogger writes human readable records to w at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewTextLogger(w io.Writer, level string) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return NewSlogLogger(slog.New(handler))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *SlogLogger) Trace(msg string, args ...any) {
	s.log(slog.LevelDebug, msg, args...)
}

func (s *SlogLogger) Debug(msg string, args ...any) {
	s.log(slog.LevelDebug, msg, args...)
}

func (s *SlogLogger) Info(msg string, args ...any) {
	s.log(slog.LevelInfo, msg, args...)
}

func (s *SlogLogger) Warn(msg string, args ...any) {
	s.log(slog.LevelWarn, msg, args...)
}

func (s *SlogLogger) Error(msg string, args ...any) {
	s.log(slog.LevelError, msg, args...)
}

// Fatal logs at error level. It does not exit; the caller owns the process.
func (s *SlogLogger) Fatal(msg string, args ...any) {
	s.log(slog.LevelError, msg, args...)
}

func (s *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	return &SlogLogger{l: s.l, ctx: ctx}
}

func (s *SlogLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return s
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &SlogLogger{l: s.l.With(args...), ctx: s.ctx}
}

func (s *SlogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.l.Log(ctx, level, msg, args...)
}

// Provider hands out named children of a root slog logger.
type Provider struct {
	root *SlogLogger
}

func NewProvider(root *SlogLogger) *Provider {
	if root == nil {
		root = NewSlogLogger(nil)
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return p.root
	}
	return &SlogLogger{l: p.root.l.With("logger", name), ctx: p.root.ctx}
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.FieldsLogger   = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
