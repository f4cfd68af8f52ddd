package protocol

import (
	"encoding/json"
	"html"
	"io"
	"strconv"
	"strings"
)

// RenderLogEntry renders one inbound message as a display fragment naming
// the sender and every field. Output is HTML-escaped and keys are sorted.
func RenderLogEntry(label string, m Message) string {
	var b strings.Builder
	b.WriteString("<div><span>from:</span>")
	b.WriteString(html.EscapeString(label))
	for _, k := range m.Keys() {
		b.WriteString("<span>")
		b.WriteString(html.EscapeString(k))
		b.WriteString(":</span>")
		b.WriteString(html.EscapeString(FormatValue(m[k])))
	}
	b.WriteString("</div>\n")
	return b.String()
}

// AppendLogEntry writes a rendered entry to sink. Sink failures never reach
// the protocol path.
func AppendLogEntry(sink io.Writer, label string, m Message) {
	if sink == nil {
		return
	}
	_, _ = io.WriteString(sink, RenderLogEntry(label, m))
}

func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
