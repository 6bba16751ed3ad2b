package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	prefixMu sync.RWMutex
	prefix   = "appredirect"
)

// SetPrefix sets the process name printed at the start of console lines.
func SetPrefix(p string) {
	prefixMu.Lock()
	defer prefixMu.Unlock()
	prefix = strings.ToLower(p)
}

// GetPrefix returns the console process name.
func GetPrefix() string {
	prefixMu.RLock()
	defer prefixMu.RUnlock()
	return prefix
}

// ConsoleHandler writes syslog-flavoured lines:
//
//	2025-06-15T12:00:00Z appredirect[812]: [info] recovery: restore finished attempt=1 ok=true
type ConsoleHandler struct {
	level     slog.Leveler
	out       io.Writer
	mu        *sync.Mutex
	component string
	group     string // dotted key prefix from WithGroup
	bound     []byte // pre-rendered " k=v" pairs from WithAttrs
}

// NewConsoleHandler creates a ConsoleHandler. A nil opts logs at info.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var lv slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		lv = opts.Level
	}
	return &ConsoleHandler{level: lv, out: out, mu: new(sync.Mutex)}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	fmt.Fprintf(&buf, "%s %s[%d]: [%s] ",
		t.Format(time.RFC3339), GetPrefix(), os.Getpid(), strings.ToLower(r.Level.String()))

	component := h.component
	var attrs bytes.Buffer
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && h.group == "" {
			component = a.Value.String()
			return true
		}
		writeAttr(&attrs, h.group, a)
		return true
	})

	if component != "" {
		buf.WriteString(strings.ToLower(component))
		buf.WriteString(": ")
	}
	buf.WriteString(r.Message)
	buf.Write(h.bound)
	buf.Write(attrs.Bytes())
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.bound = bytes.Clone(h.bound)
	var extra bytes.Buffer
	for _, a := range attrs {
		if a.Key == "component" && h.group == "" {
			c.component = a.Value.String()
			continue
		}
		writeAttr(&extra, h.group, a)
	}
	c.bound = append(c.bound, extra.Bytes()...)
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.group + name + "."
	return &c
}

// writeAttr renders " key=value", flattening groups into dotted keys.
func writeAttr(buf *bytes.Buffer, group string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g += a.Key + "."
		}
		for _, ga := range v.Group() {
			writeAttr(buf, g, ga)
		}
		return
	}
	if a.Equal(slog.Attr{}) {
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(group)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	s := v.String()
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		s = strconv.Quote(s)
	}
	buf.WriteString(s)
}
