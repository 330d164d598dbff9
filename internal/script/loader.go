package script

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Hooks resolves the hook and custom validator names referenced by a definition file.
type Hooks struct {
	Start      map[string]StartHook
	Complete   map[string]Completer
	Finish     map[string]FinishHook
	Validators map[string]Validator
}

// Rule names accepted in a step's validate list.
const (
	RuleRequired  = "required"
	RuleNonEmpty  = "non_empty"
	RuleEmail     = "email"
	RulePhone     = "phone"
	RuleOneOf     = "one_of"
	RuleMinItems  = "min_items"
	RuleMaxLength = "max_length"
	RuleCustom    = "custom"
)

type definitionFile struct {
	ID                string     `yaml:"id"`
	Feature           string     `yaml:"feature"`
	Title             string     `yaml:"title"`
	CompletionMessage string     `yaml:"completion_message"`
	OnStart           string     `yaml:"on_start"`
	OnComplete        string     `yaml:"on_complete"`
	Steps             []stepFile `yaml:"steps"`
}

type stepFile struct {
	ID          string         `yaml:"id"`
	DisplayName string         `yaml:"display_name"`
	Prompt      string         `yaml:"prompt"`
	Component   *componentFile `yaml:"component"`
	Validate    []ruleFile     `yaml:"validate"`
	OnComplete  string         `yaml:"on_complete"`
}

type componentFile struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

type ruleFile struct {
	Rule    string   `yaml:"rule"`
	Field   string   `yaml:"field"`
	Fields  []string `yaml:"fields"`
	Options []string `yaml:"options"`
	Min     int      `yaml:"min"`
	Max     int      `yaml:"max"`
	Name    string   `yaml:"name"`
	Message string   `yaml:"message"`
}

// LoadDefinition parses one YAML definition. Unknown fields, rules, and hook names are
// rejected as INVALID_SCRIPT_DEFINITION.
func LoadDefinition(r io.Reader, hooks Hooks) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read script definition: %w", err)
	}

	var file definitionFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, &Error{Code: ErrCodeInvalidDefinition, Message: "failed to parse YAML", Err: err}
	}

	def, err := file.build(hooks)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadDefinitionsFS loads every file in fsys matching pattern, in name order.
func LoadDefinitionsFS(fsys fs.FS, pattern string, hooks Hooks) ([]*Definition, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid definition pattern %q: %w", pattern, err)
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		def, err := LoadDefinition(f, hooks)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (f *definitionFile) build(hooks Hooks) (*Definition, error) {
	def := &Definition{
		ID:                f.ID,
		Feature:           models.Feature(f.Feature),
		Title:             f.Title,
		CompletionMessage: f.CompletionMessage,
	}
	if f.OnStart != "" {
		h, ok := hooks.Start[f.OnStart]
		if !ok {
			return nil, invalidDefinition(f.ID, "unknown start hook %q", f.OnStart)
		}
		def.OnStart = h
	}
	if f.OnComplete != "" {
		h, ok := hooks.Finish[f.OnComplete]
		if !ok {
			return nil, invalidDefinition(f.ID, "unknown finish hook %q", f.OnComplete)
		}
		def.OnComplete = h
	}

	for _, sf := range f.Steps {
		step := Step{
			ID:          sf.ID,
			DisplayName: sf.DisplayName,
			Prompt:      sf.Prompt,
		}
		if step.DisplayName == "" {
			step.DisplayName = sf.ID
		}
		if sf.Component != nil {
			step.Component = &ComponentSpec{TypeKey: sf.Component.Type, Params: sf.Component.Params}
		}
		if sf.OnComplete != "" {
			h, ok := hooks.Complete[sf.OnComplete]
			if !ok {
				return nil, invalidDefinition(f.ID, "step %q: unknown completion hook %q", sf.ID, sf.OnComplete)
			}
			step.Completer = h
		}
		v, err := buildValidator(f.ID, sf, hooks)
		if err != nil {
			return nil, err
		}
		step.Validator = v
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func buildValidator(scriptID string, sf stepFile, hooks Hooks) (Validator, error) {
	if len(sf.Validate) == 0 {
		return nil, nil
	}
	chain := make(Chain, 0, len(sf.Validate))
	for _, rf := range sf.Validate {
		v, err := rf.build(hooks)
		if err != nil {
			return nil, invalidDefinition(scriptID, "step %q: %v", sf.ID, err)
		}
		chain = append(chain, v)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

func (rf ruleFile) build(hooks Hooks) (Validator, error) {
	switch rf.Rule {
	case RuleRequired, RuleNonEmpty:
		fields := rf.Fields
		if rf.Field != "" {
			fields = append([]string{rf.Field}, fields...)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("rule %q needs field or fields", rf.Rule)
		}
		return Required{Fields: fields, Message: rf.Message}, nil
	case RuleEmail:
		if rf.Field == "" {
			return nil, fmt.Errorf("rule %q needs field", rf.Rule)
		}
		return Email{Field: rf.Field, Message: rf.Message}, nil
	case RulePhone:
		if rf.Field == "" {
			return nil, fmt.Errorf("rule %q needs field", rf.Rule)
		}
		return Phone{Field: rf.Field, Message: rf.Message}, nil
	case RuleOneOf:
		if rf.Field == "" || len(rf.Options) == 0 {
			return nil, fmt.Errorf("rule %q needs field and options", rf.Rule)
		}
		return OneOf{Field: rf.Field, Options: rf.Options, Message: rf.Message}, nil
	case RuleMinItems:
		if rf.Field == "" || rf.Min <= 0 {
			return nil, fmt.Errorf("rule %q needs field and a positive min", rf.Rule)
		}
		return MinItems{Field: rf.Field, Min: rf.Min, Message: rf.Message}, nil
	case RuleMaxLength:
		if rf.Field == "" || rf.Max <= 0 {
			return nil, fmt.Errorf("rule %q needs field and a positive max", rf.Rule)
		}
		return MaxLength{Field: rf.Field, Max: rf.Max, Message: rf.Message}, nil
	case RuleCustom:
		v, ok := hooks.Validators[rf.Name]
		if !ok {
			return nil, fmt.Errorf("unknown custom validator %q", rf.Name)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown rule %q", rf.Rule)
	}
}
