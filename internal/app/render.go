package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/route-runner/internal/config"
	"github.com/ggonzalez94/route-runner/internal/model"
)

// render writes env in the configured output mode. --select projects data
// fields and --results-only drops the envelope.
func render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "plain" {
			return renderPlain(w, data)
		}
		return encodeJSON(w, data)
	}

	if settings.OutputMode != "plain" {
		env.Data = data
		return encodeJSON(w, env)
	}

	if env.Error != nil {
		if err := renderPlain(w, map[string]any{"error": env.Error}); err != nil {
			return err
		}
	} else if err := renderPlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints one key=value line per item. Nested objects are
// flattened with dotted keys.
func renderPlain(w io.Writer, data any) error {
	switch t := normalizeValue(data).(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			if _, err := fmt.Fprintln(w, toLine(item)); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, toLine(t))
		return err
	}
}

func project(data any, fields []string) any {
	switch t := normalizeValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return t
	}
}

// projectMap keeps fields; a dotted field selects into nested objects.
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookupPath(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalizeValue round-trips v through JSON so typed structs render by
// their json tags.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
	flat := map[string]string{}
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case []any:
			buf, _ := json.Marshal(t)
			out[key] = string(buf)
		case nil:
			out[key] = "null"
		default:
			out[key] = fmt.Sprint(t)
		}
	}
}
