// Package logging provides the compact slog handler used by the toolbot
// commands.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"

	padding = "  " // aligns with the TUI header
)

// blockKeys are rendered as indented text under the log line instead of
// key=value pairs. They carry message and answer previews.
var blockKeys = map[string]bool{
	"preview": true,
	"answer":  true,
}

// Options configures a Handler.
type Options struct {
	// Level is the minimum level written. A *slog.LevelVar allows changing
	// it at runtime. Nil means info.
	Level slog.Leveler
	// Color enables ANSI colors and short timestamps for terminals.
	Color bool
}

// Handler writes one compact line per record with optional block attributes.
type Handler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	color  bool
	prefix string // open groups, dotted
	attrs  []slog.Attr
}

// NewHandler creates a handler writing to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	h := &Handler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.color = opts.Color
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var line, blocks bytes.Buffer

	line.WriteString(padding)
	if h.color {
		line.WriteString(ansiGray + r.Time.Format("15:04:05") + ansiReset + " ")
		line.WriteString(paint(levelColor(r.Level), levelLabel(r.Level)))
	} else {
		line.WriteString(r.Time.Format("2006-01-02 15:04:05") + " " + levelLabel(r.Level))
	}
	line.WriteString(" " + r.Message)

	for _, a := range h.attrs {
		h.appendAttr(&line, &blocks, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&line, &blocks, h.prefix, a)
		return true
	})
	line.WriteByte('\n')
	line.Write(blocks.Bytes())

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line.Bytes())
	return err
}

// appendAttr writes a as " key=value" to line, or as an indented block to
// blocks when its key is a block key. Groups flatten to dotted keys.
func (h *Handler) appendAttr(line, blocks *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(line, blocks, prefix, ga)
		}
		return
	}

	if prefix == "" && blockKeys[a.Key] {
		bar := "| "
		if h.color {
			bar = ansiGray + "│" + ansiReset + " "
		}
		for _, l := range strings.Split(a.Value.String(), "\n") {
			blocks.WriteString(padding + "  " + bar + l + "\n")
		}
		return
	}

	key := prefix + a.Key
	val := formatValue(a.Value)
	switch {
	case !h.color:
		fmt.Fprintf(line, " %s=%s", key, val)
	case a.Key == "err":
		fmt.Fprintf(line, " %s=%s", paint(ansiGray, key), paint(ansiRed, val))
	default:
		fmt.Fprintf(line, " %s=%s", paint(ansiGray, key), val)
	}
}

func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindString && (s == "" || strings.ContainsAny(s, " \t\n\"=")) {
		return strconv.Quote(s)
	}
	return s
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// ParseLevel maps a config level name to a slog level. Unknown names are
// an error rather than a silent default.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}

func paint(color, s string) string {
	return color + s + ansiReset
}
