package script

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Required rejects data missing any of Fields. Strings must be non-blank and lists
// non-empty.
type Required struct {
	Fields  []string
	Message string
}

func (v Required) Validate(data Data) Outcome {
	for _, field := range v.Fields {
		if !present(data, field) {
			if v.Message != "" {
				return Fail(v.Message)
			}
			return Fail(fmt.Sprintf("Please provide %s.", humanize(field)))
		}
	}
	return Pass()
}

// Email requires Field to hold a single valid e-mail address. Missing fields pass;
// combine with Required to make the field mandatory.
type Email struct {
	Field   string
	Message string
}

func (v Email) Validate(data Data) Outcome {
	s, ok := stringField(data, v.Field)
	if !ok || s == "" {
		return Pass()
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fail(v.Message, fmt.Sprintf("%q is not a valid e-mail address.", s))
	}
	return Pass()
}

// Phone requires Field to hold 7 to 15 digits, ignoring common separators.
type Phone struct {
	Field   string
	Message string
}

func (v Phone) Validate(data Data) Outcome {
	s, ok := stringField(data, v.Field)
	if !ok || s == "" {
		return Pass()
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return fail(v.Message, "Phone numbers may only contain digits, spaces, and + - ( ) separators.")
		}
	}
	if digits < 7 || digits > 15 {
		return fail(v.Message, "Phone numbers must have between 7 and 15 digits.")
	}
	return Pass()
}

// OneOf requires Field to equal one of Options.
type OneOf struct {
	Field   string
	Options []string
	Message string
}

func (v OneOf) Validate(data Data) Outcome {
	s, _ := stringField(data, v.Field)
	if slices.Contains(v.Options, s) {
		return Pass()
	}
	return fail(v.Message, fmt.Sprintf("Please choose one of: %s.", strings.Join(v.Options, ", ")))
}

// MinItems requires the list in Field to have at least Min entries.
type MinItems struct {
	Field   string
	Min     int
	Message string
}

func (v MinItems) Validate(data Data) Outcome {
	n, _ := listLen(data, v.Field)
	if n >= v.Min {
		return Pass()
	}
	return fail(v.Message, fmt.Sprintf("Please add at least %d %s.", v.Min, humanize(v.Field)))
}

// MaxLength bounds the rune length of the string in Field.
type MaxLength struct {
	Field   string
	Max     int
	Message string
}

func (v MaxLength) Validate(data Data) Outcome {
	s, _ := stringField(data, v.Field)
	if utf8.RuneCountInString(s) <= v.Max {
		return Pass()
	}
	return fail(v.Message, fmt.Sprintf("%s must be at most %d characters.", capitalize(humanize(v.Field)), v.Max))
}

// Chain runs validators in order and returns the first failure.
type Chain []Validator

func (c Chain) Validate(data Data) Outcome {
	for _, v := range c {
		if out := v.Validate(data); !out.OK() {
			return out
		}
	}
	return Pass()
}

func fail(override, reason string) Outcome {
	if override != "" {
		return Fail(override)
	}
	return Fail(reason)
}

func present(data Data, field string) bool {
	v, ok := data[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func stringField(data Data, field string) (string, bool) {
	s, ok := data[field].(string)
	return strings.TrimSpace(s), ok
}

func listLen(data Data, field string) (int, bool) {
	switch t := data[field].(type) {
	case []any:
		return len(t), true
	case []string:
		return len(t), true
	case string:
		// Comma separated lists come in from free-text answers.
		n := 0
		for _, part := range strings.Split(t, ",") {
			if strings.TrimSpace(part) != "" {
				n++
			}
		}
		return n, true
	}
	return 0, false
}

func humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

// capitalize upper-cases the first letter of s and keeps the rest.
func capitalize(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return cases.Upper(language.Und).String(s[:size]) + s[size:]
}
