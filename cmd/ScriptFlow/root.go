package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BTreeMap/ScriptFlow/internal/features"
	"github.com/BTreeMap/ScriptFlow/internal/genai"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// app carries the configuration shared by every subcommand.
type app struct {
	v   *viper.Viper
	cfg Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "ScriptFlow",
		Short:         "ScriptFlow runs guided chat scripts that collect structured records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnvFile()
			if err := bindFlags(a.v, cmd.Flags()); err != nil {
				return fmt.Errorf("binding flags: %w", err)
			}
			initLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"))
			cfg, err := loadConfig(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("state-dir", DefaultStateDir, "directory for the SQLite database and lock file")
	pf.String("database-url", "", "Postgres or SQLite DSN (default is a SQLite file in the state directory)")
	pf.String("definitions-dir", "", "directory of *.yaml scripts that replace the built-in ones")
	pf.String("openai-api-key", "", "OpenAI API key; enables resume parsing and assistant replies")
	pf.String("openai-model", string(genai.DefaultModel), "OpenAI chat model")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(a), newChatCmd(a), newScriptsCmd(a), newComponentsCmd(a))
	return root
}

// buildCatalog wires the features against st using the configured AI and script overrides.
func (a *app) buildCatalog(st store.Store) (*features.Catalog, error) {
	var opts []features.Option
	if a.cfg.OpenAIKey != "" {
		ai, err := genai.NewClient(genai.WithAPIKey(a.cfg.OpenAIKey), genai.WithModel(a.cfg.OpenAIModel))
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		opts = append(opts, features.WithAI(ai))
	} else {
		slog.Info("buildCatalog: OpenAI key not set, AI features disabled")
	}
	if a.cfg.DefinitionsDir != "" {
		opts = append(opts, features.WithDefinitions(os.DirFS(a.cfg.DefinitionsDir)))
	}
	return features.Build(st, opts...)
}

func newScriptsCmd(a *app) *cobra.Command {
	scripts := &cobra.Command{
		Use:   "scripts",
		Short: "Inspect script definitions",
	}
	scripts.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Check the *.yaml scripts in dir against the registered components and hooks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.DefinitionsDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no definitions directory given")
			}
			catalog, err := features.Build(store.NewInMemoryStore())
			if err != nil {
				return err
			}
			defs, err := catalog.ValidateDefinitions(os.DirFS(dir))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, def := range defs {
				fmt.Fprintf(out, "ok  %s  feature=%s steps=%d\n", def.ID, def.Feature, len(def.Steps))
			}
			if len(defs) == 0 {
				fmt.Fprintf(out, "no scripts matching %s in %s\n", features.DefinitionPattern, dir)
			}
			return nil
		},
	})
	return scripts
}

func newComponentsCmd(a *app) *cobra.Command {
	components := &cobra.Command{
		Use:   "components",
		Short: "Inspect the component registry",
	}
	components.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every registered component type key and its kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := features.Build(store.NewInMemoryStore())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range catalog.Components.Entries() {
				fmt.Fprintf(out, "%-20s %s\n", e.TypeKey, e.Kind)
			}
			return nil
		},
	})
	return components
}
