package messaging

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Render flattens msg to plain text for channels that cannot draw components.
// Options become a numbered list and form fields a reply hint.
func Render(msg models.ChatMessage) string {
	var b strings.Builder
	b.WriteString(msg.Content)
	if msg.Component == nil {
		return b.String()
	}

	props := msg.Component.Props
	if options := Options(msg); len(options) > 0 {
		for i, opt := range options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
		}
		b.WriteString("\nReply with a number.")
	}
	if fields := stringList(props["fields"]); len(fields) > 0 {
		fmt.Fprintf(&b, "\nPlease reply with: %s", strings.Join(fields, ", "))
	}
	return strings.TrimSpace(b.String())
}

// Options returns the labels of a choice fragment attached to msg.
func Options(msg models.ChatMessage) []string {
	if msg.Component == nil {
		return nil
	}
	return stringList(msg.Component.Props["options"])
}

// stringList reads a prop holding strings, or maps with a "label" or "name" key.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if label, ok := it["label"].(string); ok {
					out = append(out, label)
				} else if name, ok := it["name"].(string); ok {
					out = append(out, name)
				}
			default:
				out = append(out, fmt.Sprint(it))
			}
		}
		return out
	}
	return nil
}
