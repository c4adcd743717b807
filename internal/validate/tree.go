package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// decodeObject parses raw into an untyped JSON object, keeping numbers as
// json.Number so payload amounts are not rounded through float64.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ValidationError{Reason: "trailing data after JSON document"}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Reason: "document must be a JSON object"}
	}
	return obj, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// rejectUnknown fails on the alphabetically first key not in allowed.
func rejectUnknown(obj map[string]any, path string, allowed ...string) error {
	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	var extra []string
	for k := range obj {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fieldErr(join(path, extra[0]), "unknown field")
}

func requireString(obj map[string]any, path, key string, nonEmpty bool) (string, error) {
	field := join(path, key)
	v, ok := obj[key]
	if !ok {
		return "", fieldErr(field, "required")
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldErr(field, "must be a string")
	}
	if nonEmpty && s == "" {
		return "", fieldErr(field, "must not be empty")
	}
	return s, nil
}

func requireArray(obj map[string]any, path, key string) ([]any, error) {
	field := join(path, key)
	v, ok := obj[key]
	if !ok {
		return nil, fieldErr(field, "required")
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fieldErr(field, "must be an array")
	}
	return arr, nil
}

func requireObject(obj map[string]any, path, key string) (map[string]any, error) {
	field := join(path, key)
	v, ok := obj[key]
	if !ok {
		return nil, fieldErr(field, "required")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldErr(field, "must be an object")
	}
	return m, nil
}

func requireStringList(obj map[string]any, path, key string) ([]string, error) {
	arr, err := requireArray(obj, path, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fieldErr(index(join(path, key), i), "must be a string")
		}
		out = append(out, s)
	}
	return out, nil
}

func elementObject(v any, field string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldErr(field, "must be an object")
	}
	return m, nil
}

func checkDate(field, s string) error {
	if !datePattern.MatchString(s) {
		return fieldErr(field, "must match YYYY-MM-DD")
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fieldErr(field, "not a calendar date")
	}
	return nil
}

// checkEnvelope verifies the literal type and version pair.
func checkEnvelope(obj map[string]any, wantType string) error {
	typ, err := requireString(obj, "", "type", true)
	if err != nil {
		return err
	}
	if typ != wantType {
		return fieldErr("type", "expected %q, got %q", wantType, typ)
	}
	ver, err := requireString(obj, "", "version", true)
	if err != nil {
		return err
	}
	if ver != plan.Version {
		return fieldErr("version", "unsupported version %q", ver)
	}
	return nil
}
