package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// FixedFormatWriter converts zerolog JSON lines into fixed-width columns:
//
//	2026-10-19 12:00:00.000 INF [lifecycle   ] Service installed service=selfserve
//	2026-10-19 12:00:01.200 WRN [scm-wait    ] No progress within wait hint wait_hint=30000
type FixedFormatWriter struct {
	w io.Writer
}

// NewFixedFormatWriter wraps w.
func NewFixedFormatWriter(w io.Writer) *FixedFormatWriter {
	return &FixedFormatWriter{w: w}
}

const componentWidth = 12

var levelAbbrev = map[string]string{
	"trace": "TRC",
	"debug": "DBG",
	"info":  "INF",
	"warn":  "WRN",
	"error": "ERR",
	"fatal": "FTL",
	"panic": "PNC",
}

func (f *FixedFormatWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return f.w.Write(p)
	}

	ts := takeString(fields, "time")
	lvl, ok := levelAbbrev[takeString(fields, "level")]
	if !ok {
		lvl = "???"
	}
	comp := takeString(fields, "component")
	if len(comp) > componentWidth {
		comp = comp[:componentWidth]
	}
	msg := takeString(fields, "message")
	delete(fields, "caller")

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%-*s] %s", formatTime(ts), lvl, componentWidth, comp, msg)
	writeFields(&b, fields)
	b.WriteByte('\n')

	if _, err := io.WriteString(f.w, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func takeString(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

const stampLayout = "2006-01-02 15:04:05.000"

// formatTime renders an RFC3339 timestamp in its own zone. Values
// that do not parse are padded to the column width unchanged.
func formatTime(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.Format(stampLayout)
	}
	if len(ts) >= len(stampLayout) {
		return ts[:len(stampLayout)]
	}
	return ts + strings.Repeat(" ", len(stampLayout)-len(ts))
}

func writeFields(b *strings.Builder, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s := fmt.Sprint(fields[k])
		if strings.ContainsAny(s, " \t\n\"=") {
			fmt.Fprintf(b, " %s=%q", k, s)
		} else {
			fmt.Fprintf(b, " %s=%s", k, s)
		}
	}
}
