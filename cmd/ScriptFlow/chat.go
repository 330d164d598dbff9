package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// Replies offered next to the options of a choice step.
const (
	replyBack   = "/back"
	replyCancel = "/cancel"
)

// asker collects terminal input.
type asker interface {
	Choose(label string, items []string) (string, error)
	Ask(label string) (string, error)
}

type promptAsker struct{}

func (promptAsker) Choose(label string, items []string) (string, error) {
	sel := promptui.Select{Label: label, Items: items, Size: len(items)}
	_, choice, err := sel.Run()
	return choice, err
}

func (promptAsker) Ask(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return models.ErrEmptyMessage
			}
			return nil
		},
	}
	return p.Run()
}

func newChatCmd(a *app) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "chat [feature]",
		Short: "Run a feature's script interactively in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st store.Store = store.NewInMemoryStore()
			if persist {
				opened, err := store.New(a.cfg.StoreOptions()...)
				if err != nil {
					return fmt.Errorf("opening store: %w", err)
				}
				st = opened
			}
			defer st.Close()

			catalog, err := a.buildCatalog(st)
			if err != nil {
				return err
			}
			manager := chat.NewManager(st, catalog.Dispatcher)

			var feature models.Feature
			if len(args) == 1 {
				feature = models.Feature(args[0])
			}
			return runChat(cmd.Context(), manager, feature, promptAsker{}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "save the session and records to the configured database")
	return cmd
}

// runChat opens a session for feature, asking for one when empty, and relays turns
// until the session closes or input ends.
func runChat(ctx context.Context, manager *chat.Manager, feature models.Feature, in asker, out io.Writer) error {
	if feature == "" {
		features := manager.Dispatcher().Features()
		items := make([]string, len(features))
		for i, f := range features {
			items[i] = string(f)
		}
		choice, err := in.Choose("Feature", items)
		if err != nil {
			return quietInterrupt(err)
		}
		feature = models.Feature(choice)
	}

	view, err := manager.Open(ctx, feature, "")
	if err != nil {
		return err
	}
	slog.Debug("runChat: session opened", "session", view.ID, "feature", feature)
	last := printMessages(out, view.Transcript)

	active := view.Active
	for active {
		var text string
		if options := messaging.Options(last); len(options) > 0 {
			text, err = in.Choose("Choose", append(options, replyBack, replyCancel))
		} else {
			text, err = in.Ask("You")
		}
		if err != nil {
			return quietInterrupt(err)
		}

		ex, err := manager.Send(ctx, view.ID, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if m := printMessages(out, ex.Messages); m.ID != "" {
			last = m
		}
		active = ex.Active
	}
	return nil
}

// printMessages writes every non-user message and returns the last one printed.
func printMessages(out io.Writer, msgs []models.ChatMessage) models.ChatMessage {
	var last models.ChatMessage
	for _, msg := range msgs {
		if msg.Role == models.RoleUser {
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", msg.Role, messaging.Render(msg))
		last = msg
	}
	return last
}

func quietInterrupt(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
