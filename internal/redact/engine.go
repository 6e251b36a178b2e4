package redact

import (
	"io"
	"maps"
	"strings"

	"github.com/ppiankov/trustplane/internal/events"
)

// Redactor masks sensitive keys and scans string values.
type Redactor struct {
	keys     map[string]bool
	patterns []Pattern
}

// Map returns a copy of data with sensitive keys masked and string values
// scanned. Nested maps are redacted recursively.
func (r *Redactor) Map(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if r.keys[strings.ToLower(k)] {
			out[k] = MaskValue(v)
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch t := v.(type) {
	case string:
		return Text(t, r.patterns)
	case map[string]any:
		return r.Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e)
		}
		return out
	default:
		return v
	}
}

// Event returns a redacted copy of e. The input is not modified.
func (r *Redactor) Event(e events.Event) events.Event {
	e.Attributes = r.Map(e.Attributes)
	e.Reason = Text(e.Reason, r.patterns)
	if e.Details != nil {
		d := maps.Clone(e.Details)
		for k, v := range d {
			if r.keys[strings.ToLower(k)] {
				d[k] = Mask
				continue
			}
			d[k] = Text(v, r.patterns)
		}
		e.Details = d
	}
	return e
}

// Sink wraps next so it only sees redacted events.
func (r *Redactor) Sink(next events.Sink) events.Sink {
	return &sink{r: r, next: next}
}

type sink struct {
	r    *Redactor
	next events.Sink
}

func (s *sink) Emit(e events.Event) { s.next.Emit(s.r.Event(e)) }

// Close closes the wrapped sink if it is closable.
func (s *sink) Close() error {
	if c, ok := s.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
