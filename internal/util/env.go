// Package util provides configuration parsing helpers shared by the commands.
package util

import (
	"log/slog"
	"strings"
)

// ParseBool reads a human boolean: true/1/yes/on and false/0/no/off, case-insensitive.
// Empty or unrecognized values return def.
func ParseBool(value string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return def
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBool: invalid boolean value, using default", "value", value, "default", def)
		return def
	}
}

// SplitList splits a comma separated setting, dropping blank entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
