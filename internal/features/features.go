// Package features assembles the component registry, script definitions and chat
// handlers of every feature the application serves.
package features

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/features/assistant"
	"github.com/BTreeMap/ScriptFlow/internal/features/candidate"
	"github.com/BTreeMap/ScriptFlow/internal/features/job"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// DefinitionPattern matches script override files in a definitions directory.
const DefinitionPattern = "*.yaml"

// AI is the language model collaborator shared by the features.
type AI interface {
	GeneratePrompt(ctx context.Context, system, user string) (string, error)
	ExtractFields(ctx context.Context, instructions, text string, fields []string) (map[string]string, error)
}

// Catalog is the assembled feature set.
type Catalog struct {
	Components  *component.Registry
	Definitions *script.Store
	Dispatcher  *chat.Dispatcher
	Runner      *script.Runner

	hooks script.Hooks
}

// Opts configures Build.
type Opts struct {
	AI          AI
	Definitions fs.FS
	IDs         script.IDGenerator
	Clock       script.Clock
}

type Option func(*Opts)

// WithAI enables resume parsing, requirement extraction and assistant replies.
func WithAI(ai AI) Option {
	return func(o *Opts) { o.AI = ai }
}

// WithDefinitions loads *.yaml scripts from fsys, replacing the built-in definition of
// the same feature.
func WithDefinitions(fsys fs.FS) Option {
	return func(o *Opts) { o.Definitions = fsys }
}

// WithIDGenerator sets the generator for message and record ids.
func WithIDGenerator(g script.IDGenerator) Option {
	return func(o *Opts) { o.IDs = g }
}

// WithClock sets the clock for message and record timestamps.
func WithClock(c script.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

var displayNames = map[models.Feature]string{
	models.FeatureCandidate: "Add a candidate",
	models.FeatureJob:       "Post a job",
}

// requiredSteps are the step ids each feature's save hook reads.
var requiredSteps = map[models.Feature][]string{
	models.FeatureCandidate: candidate.RequiredSteps,
	models.FeatureJob:       job.RequiredSteps,
}

// Build wires every feature against st.
func Build(st store.Store, opts ...Option) (*Catalog, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}

	var candOpts []candidate.Option
	var jobOpts []job.Option
	var asstOpts []assistant.Option
	var runOpts []script.RunnerOption
	if o.AI != nil {
		candOpts = append(candOpts, candidate.WithExtractor(o.AI))
		jobOpts = append(jobOpts, job.WithExtractor(o.AI))
		asstOpts = append(asstOpts, assistant.WithGenerator(o.AI))
	}
	if o.IDs != nil {
		candOpts = append(candOpts, candidate.WithIDGenerator(o.IDs))
		jobOpts = append(jobOpts, job.WithIDGenerator(o.IDs))
		asstOpts = append(asstOpts, assistant.WithIDGenerator(o.IDs))
		runOpts = append(runOpts, script.WithIDGenerator(o.IDs))
	}
	if o.Clock != nil {
		candOpts = append(candOpts, candidate.WithClock(o.Clock))
		jobOpts = append(jobOpts, job.WithClock(o.Clock))
		asstOpts = append(asstOpts, assistant.WithClock(o.Clock))
		runOpts = append(runOpts, script.WithClock(o.Clock))
	}
	cand := candidate.New(st, candOpts...)
	jb := job.New(st, jobOpts...)

	c := &Catalog{
		Components:  component.NewRegistry(),
		Definitions: script.NewStore(),
		Dispatcher:  chat.NewDispatcher(),
		hooks:       mergeHooks(cand.Hooks(), jb.Hooks()),
	}
	c.Components.Initialize(func(r *component.Registry) {
		cand.RegisterComponents(r)
		jb.RegisterComponents(r)
	})
	c.Runner = script.NewRunner(c.Components, runOpts...)

	for _, load := range []func() (*script.Definition, error){cand.Definition, jb.Definition} {
		def, err := load()
		if err != nil {
			return nil, err
		}
		if err := c.Definitions.Register(def); err != nil {
			return nil, err
		}
	}
	if o.Definitions != nil {
		if err := c.loadOverrides(o.Definitions); err != nil {
			return nil, err
		}
	}

	candDef, _ := c.Definitions.GetByFeature(models.FeatureCandidate)
	jobDef, _ := c.Definitions.GetByFeature(models.FeatureJob)
	c.Dispatcher.MustRegister(cand.NewHandler(candDef, c.Runner))
	c.Dispatcher.MustRegister(jb.NewHandler(jobDef, c.Runner))

	for _, f := range c.Definitions.Features() {
		asstOpts = append(asstOpts, assistant.WithFeatures(assistant.FeatureInfo{Feature: f, Title: displayNames[f]}))
	}
	c.Dispatcher.MustRegister(assistant.New(asstOpts...))

	slog.Info("features.Build: features ready", "features", c.Dispatcher.Features(),
		"components", len(c.Components.TypeKeys()), "ai", o.AI != nil)
	return c, nil
}

// Hooks returns every named hook and validator the built-in features provide.
func (c *Catalog) Hooks() script.Hooks { return c.hooks }

// ValidateDefinitions loads every script in fsys against the feature hooks without
// registering them. A script must keep the steps its feature's save hook reads.
func (c *Catalog) ValidateDefinitions(fsys fs.FS) ([]*script.Definition, error) {
	defs, err := script.LoadDefinitionsFS(fsys, DefinitionPattern, c.hooks)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if _, ok := displayNames[def.Feature]; !ok {
			return nil, fmt.Errorf("%s: %w: %s", def.ID, chat.ErrUnknownFeature, def.Feature)
		}
		if err := def.RequireSteps(requiredSteps[def.Feature]...); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (c *Catalog) loadOverrides(fsys fs.FS) error {
	defs, err := c.ValidateDefinitions(fsys)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := c.Definitions.Register(def); err != nil {
			return err
		}
		slog.Info("features.Build: script overridden", "feature", def.Feature, "script", def.ID)
	}
	return nil
}

func mergeHooks(all ...script.Hooks) script.Hooks {
	out := script.Hooks{
		Start:      map[string]script.StartHook{},
		Complete:   map[string]script.Completer{},
		Finish:     map[string]script.FinishHook{},
		Validators: map[string]script.Validator{},
	}
	for _, h := range all {
		maps.Copy(out.Start, h.Start)
		maps.Copy(out.Complete, h.Complete)
		maps.Copy(out.Finish, h.Finish)
		maps.Copy(out.Validators, h.Validators)
	}
	return out
}
