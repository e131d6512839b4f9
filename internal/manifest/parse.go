// Package manifest parses package DESCRIPTION manifests and Rd documentation
// sources into validated structures.
//
// A manifest is a flat block of "Key: value" lines. Lines that begin with a
// space or tab continue the previous field; a continuation consisting of a
// single "." starts a new paragraph.
package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var fieldLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9._@/-]*)[ \t]*:(.*)$`)

// ParseError reports malformed block syntax
type ParseError struct {
	Line int
	Msg  string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Fields maps a manifest field name to its raw, trimmed value
type Fields map[string]string

// Get returns the value of the first key present, trying aliases in order
func (f Fields) Get(key string, aliases ...string) (string, bool) {
	if v, ok := f[key]; ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := f[a]; ok {
			return v, true
		}
	}
	return "", false
}

// Keys returns the field names in sorted order
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse parses a DESCRIPTION-style block into fields
func Parse(raw string) (Fields, error) {
	fields := make(Fields)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		current string
		value   strings.Builder
		lineNo  int
	)

	commit := func() {
		if current != "" {
			fields[current] = strings.TrimSpace(value.String())
		}
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.TrimSpace(line) == "" {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if current == "" {
				return nil, &ParseError{Line: lineNo, Msg: "continuation line before any field"}
			}
			cont := strings.TrimSpace(line)
			switch {
			case cont == ".":
				value.WriteString("\n\n")
			case value.Len() == 0 || strings.HasSuffix(value.String(), "\n"):
				value.WriteString(cont)
			default:
				value.WriteString(" ")
				value.WriteString(cont)
			}
			continue
		}

		m := fieldLine.FindStringSubmatch(line)
		if m == nil {
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("expected \"Key: value\", got %q", truncate(line, 40))}
		}

		commit()
		current = m[1]
		if _, dup := fields[current]; dup {
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate field %q", current)}
		}
		value.Reset()
		value.WriteString(strings.TrimSpace(m[2]))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Line: lineNo, Msg: err.Error()}
	}
	commit()

	if len(fields) == 0 {
		return nil, &ParseError{Msg: "manifest is empty"}
	}
	return fields, nil
}

// FieldsFromMap converts a decoded JSON object into fields. Arrays of
// strings are joined with ", " so list fields read the same as in a block.
// A json.Number keeps its literal text.
func FieldsFromMap(m map[string]any) (Fields, error) {
	fields := make(Fields, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = strings.TrimSpace(val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, &ParseError{Msg: fmt.Sprintf("field %q: list items must be strings", k)}
				}
				parts = append(parts, strings.TrimSpace(s))
			}
			fields[k] = strings.Join(parts, ", ")
		case json.Number:
			fields[k] = val.String()
		case float64, bool:
			fields[k] = fmt.Sprint(val)
		default:
			return nil, &ParseError{Msg: fmt.Sprintf("field %q: unsupported value type %T", k, v)}
		}
	}
	if len(fields) == 0 {
		return nil, &ParseError{Msg: "manifest is empty"}
	}
	return fields, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
