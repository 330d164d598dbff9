// Package component provides the registry of UI fragments that script steps can attach
// to chat messages.
//
// A Registry is constructed once at application start and passed to every feature
// registrar and to the script runner. Registration is last-writer-wins: re-registering a
// type key replaces its kind and default params and keeps its original list position.
package component

import (
	"log/slog"
	"maps"
	"sync"
)

// Kind is the closed set of fragment descriptors the rendering layer knows how to draw.
type Kind string

const (
	KindForm       Kind = "form"
	KindFileUpload Kind = "file_upload"
	KindChoice     Kind = "choice"
	KindTextInput  Kind = "text_input"
	KindTagInput   Kind = "tag_input"
	KindReview     Kind = "review"
)

// Kinds lists every known Kind.
func Kinds() []Kind {
	return []Kind{KindForm, KindFileUpload, KindChoice, KindTextInput, KindTagInput, KindReview}
}

// IsValidKind checks if the given kind is one the rendering layer supports.
func IsValidKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Entry is a registered component.
type Entry struct {
	TypeKey       string         `json:"type"`
	Kind          Kind           `json:"kind"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
}

// Props returns the entry's default params overlaid with params. Neither input is
// modified.
func (e Entry) Props(params map[string]any) map[string]any {
	if len(e.DefaultParams) == 0 && len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.DefaultParams)+len(params))
	maps.Copy(out, e.DefaultParams)
	maps.Copy(out, params)
	return out
}

// Resolution is the result of resolving a type key: either Registered or Unregistered.
type Resolution interface {
	resolution()
}

// Registered is the Resolution for a known type key.
type Registered struct {
	Entry Entry
}

// Unregistered is the Resolution for a type key nothing has registered.
type Unregistered struct {
	TypeKey string
}

func (Registered) resolution()   {}
func (Unregistered) resolution() {}

// Registry maps type keys to component entries.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	order       []string
	initialized bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register associates typeKey with a kind and default params. Registering an existing
// key overwrites it. An unknown kind is logged and nothing is stored.
func (r *Registry) Register(typeKey string, kind Kind, defaultParams map[string]any) {
	if !IsValidKind(kind) {
		slog.Warn("Registry.Register: unknown component kind, ignoring", "type", typeKey, "kind", kind)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[typeKey]; !exists {
		r.order = append(r.order, typeKey)
	} else {
		slog.Debug("Registry.Register: overwriting component", "type", typeKey, "kind", kind)
	}
	r.entries[typeKey] = Entry{
		TypeKey:       typeKey,
		Kind:          kind,
		DefaultParams: maps.Clone(defaultParams),
	}
	slog.Debug("Registry.Register: component registered", "type", typeKey, "kind", kind)
}

// Get retrieves the entry for typeKey.
func (r *Registry) Get(typeKey string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typeKey]
	return e, ok
}

// Resolve looks up typeKey and returns a typed Resolution.
func (r *Registry) Resolve(typeKey string) Resolution {
	if e, ok := r.Get(typeKey); ok {
		return Registered{Entry: e}
	}
	return Unregistered{TypeKey: typeKey}
}

// Has checks if typeKey is registered.
func (r *Registry) Has(typeKey string) bool {
	_, ok := r.Get(typeKey)
	return ok
}

// TypeKeys returns the registered type keys in registration order.
func (r *Registry) TypeKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Initialize runs fn once. Later calls are no-ops until Reset.
func (r *Registry) Initialize(fn func(*Registry)) {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return
	}
	r.initialized = true
	r.mu.Unlock()

	fn(r)
	slog.Debug("Registry.Initialize: defaults registered", "count", len(r.TypeKeys()))
}

// Reset clears every entry and the initialized flag. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
	r.order = nil
	r.initialized = false
}
