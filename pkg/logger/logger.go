// Package logger builds the slog logger shared by every replybot component.
// Text output goes through charmbracelet/log; JSON output is one Entry per
// line so a reply can be followed across components by event and chat id.
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"replybot/pkg/config"
)

const (
	envFormat    = "REPLYBOT_LOG_FORMAT"
	envLevel     = "REPLYBOT_LOG_LEVEL"
	envAddSource = "REPLYBOT_LOG_ADD_SOURCE"

	redacted = "[redacted]"
)

// Entry is one JSON log line. Correlation keys are lifted out of Fields.
type Entry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
	ChatID    int64          `json:"chat_id,omitempty"`
	MessageID int64          `json:"message_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger. Output goes to stderr, and also to cfg.File
// when set; the closer releases that file. Every occurrence of a non-empty
// secret is masked before it reaches either writer.
func New(cfg config.LoggingConfig, secrets ...string) (*slog.Logger, io.Closer, error) {
	path := strings.TrimSpace(cfg.File)
	if path == "" {
		log, err := newWithWriter(cfg, mask(os.Stderr, secrets))
		return log, nopCloser{}, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	log, err := newWithWriter(cfg, mask(io.MultiWriter(os.Stderr, file), secrets))
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return log, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == "json" {
		return slog.New(&jsonHandler{
			level:     s.level,
			addSource: s.addSource,
			w:         w,
			mu:        &sync.Mutex{},
		}), nil
	}

	return slog.New(charmLog.NewWithOptions(w, charmLog.Options{
		Level:           charmLevel(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})), nil
}

// resolve merges cfg with REPLYBOT_LOG_* overrides.
func resolve(cfg config.LoggingConfig) (settings, error) {
	format := firstNonEmpty(os.Getenv(envFormat), cfg.Format, "text")
	if format != "json" && format != "text" {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelText := firstNonEmpty(os.Getenv(envLevel), cfg.Level, "info")
	level, err := parseLevel(levelText)
	if err != nil {
		return settings{}, err
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envAddSource)); env != "" {
		addSource = parseBool(env)
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			return v
		}
	}

	return ""
}

func parseLevel(text string) (slog.Level, error) {
	switch text {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// maskWriter replaces secrets in each write. Both handlers emit one whole
// record per Write, so a secret never straddles two calls.
type maskWriter struct {
	w       io.Writer
	secrets [][]byte
}

func mask(w io.Writer, secrets []string) io.Writer {
	var keep [][]byte
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			keep = append(keep, []byte(s))
		}
	}
	if len(keep) == 0 {
		return w
	}

	return &maskWriter{w: w, secrets: keep}
}

func (m *maskWriter) Write(p []byte) (int, error) {
	out := p
	for _, s := range m.secrets {
		if bytes.Contains(out, s) {
			out = bytes.ReplaceAll(out, s, []byte(redacted))
		}
	}

	if _, err := m.w.Write(out); err != nil {
		return 0, err
	}

	return len(p), nil
}

type jsonHandler struct {
	level     slog.Level
	addSource bool
	w         io.Writer
	attrs     []slog.Attr
	groups    []string
	mu        *sync.Mutex
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := Entry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		entry.add(fields, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		entry.add(fields, h.groups, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource {
		entry.Caller = caller(record.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(line, '\n'))
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

// add stores attr in fields, or on the entry itself for the ungrouped
// correlation keys.
func (e *Entry) add(fields map[string]any, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if len(groups) == 0 && e.promote(attr) {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + attr.Key
	}
	fields[key] = plain(attr.Value)
}

func (e *Entry) promote(attr slog.Attr) bool {
	v := attr.Value
	switch attr.Key {
	case "component":
		if v.Kind() == slog.KindString {
			e.Component = v.String()
			return true
		}
	case "event_id":
		if v.Kind() == slog.KindString {
			e.EventID = v.String()
			return true
		}
	case "chat_id":
		if v.Kind() == slog.KindInt64 {
			e.ChatID = v.Int64()
			return true
		}
	case "message_id":
		if v.Kind() == slog.KindInt64 {
			e.MessageID = v.Int64()
			return true
		}
	}

	return false
}

func plain(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		out := make(map[string]any, len(group))
		for _, item := range group {
			out[item.Key] = plain(item.Value.Resolve())
		}
		return out
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.String()
	}
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}

	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
