// Package stepdata reads the loosely typed data users submit for script steps.
//
// A step can be answered through its component (structured fields) or as free text
// (the "text" key); the helpers here accept both.
package stepdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// TextKey is the field free-text replies are submitted under.
const TextKey = "text"

// Decode copies data into out, a pointer to a struct tagged with `json` names.
// Scalars are converted weakly, so "3" decodes into an int field.
func Decode(data map[string]any, out any) error {
	cfg := &mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("failed to decode step data: %w", err)
	}
	return nil
}

// String returns data[field] trimmed, or "" when absent or not a string.
func String(data map[string]any, field string) string {
	s, _ := data[field].(string)
	return strings.TrimSpace(s)
}

// Text returns data[field], falling back to the free-text reply.
func Text(data map[string]any, field string) string {
	if s := String(data, field); s != "" {
		return s
	}
	return String(data, TextKey)
}

// List returns the non-blank entries of data[field]. A string value, or the free-text
// reply when field is absent, is split on commas and newlines.
func List(data map[string]any, field string) []string {
	v, ok := data[field]
	if !ok {
		v = data[TextKey]
	}
	var raw []string
	switch list := v.(type) {
	case []string:
		raw = list
	case []any:
		for _, item := range list {
			raw = append(raw, fmt.Sprint(item))
		}
	case string:
		raw = strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(item), "-"))
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// Option is one selectable answer of a choice step.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Choose resolves a choice answer by value, label (case-insensitive) or 1-based number.
func Choose(data map[string]any, field string, options []Option) (Option, bool) {
	answer := Text(data, field)
	if answer == "" {
		return Option{}, false
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(answer, ".")); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return Option{}, false
	}
	for _, opt := range options {
		if strings.EqualFold(answer, opt.Value) || strings.EqualFold(answer, opt.Label) {
			return opt, true
		}
	}
	return Option{}, false
}

// OptionProps converts options into component params.
func OptionProps(options []Option) []any {
	out := make([]any, len(options))
	for i, opt := range options {
		out[i] = map[string]any{"value": opt.Value, "label": opt.Label}
	}
	return out
}

var confirmWords = map[string]bool{"yes": true, "y": true, "confirm": true, "ok": true, "save": true}

// Confirmed reports whether a review step was approved, either through a boolean
// "confirmed" field or a confirming free-text reply.
func Confirmed(data map[string]any) bool {
	switch v := data["confirmed"].(type) {
	case bool:
		return v
	case string:
		return confirmWords[strings.ToLower(strings.TrimSpace(v))]
	}
	return confirmWords[strings.ToLower(String(data, TextKey))]
}

// Title normalizes a person's name or a job title to NFC with collapsed spaces in
// title case.
func Title(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	return cases.Title(language.English).String(s)
}
