package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/ScriptFlow/internal/api"
	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/lockfile"
	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/store"
	"github.com/BTreeMap/ScriptFlow/internal/twiliowhatsapp"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API and run the WhatsApp delivery and session expiry workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	f := serve.Flags()
	f.String("api-addr", api.DefaultAddr, "HTTP listen address")
	f.String("allowed-origins", "*", "comma separated CORS origins")
	f.Bool("twilio-webhook", false, "mount POST /webhooks/twilio (default: on when Twilio credentials are set)")
	f.Bool("direct-delivery", false, "send WhatsApp replies inline instead of through the durable outbox")
	f.Int("outbox-max-attempts", store.DefaultOutboxMaxAttempts, "failed sends after which an outbox message is abandoned")
	f.Duration("idle-timeout", DefaultIdleTimeout, "close sessions idle for this long (0 disables)")
	return serve
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	if store.DetectDSNType(cfg.DSN()) == "sqlite3" {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("serve: releasing state lock failed", "error", err)
			}
		}()
	}

	st, err := store.New(cfg.StoreOptions()...)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	catalog, err := a.buildCatalog(st)
	if err != nil {
		return err
	}

	var managerOpts []chat.ManagerOption
	var workers []func(context.Context)

	sender, err := twiliowhatsapp.NewClient()
	if err != nil {
		slog.Info("serve: WhatsApp delivery disabled", "reason", err)
	} else if cfg.Direct() {
		managerOpts = append(managerOpts, chat.WithMirrors(messaging.NewTwilioMirror(sender)))
	} else {
		managerOpts = append(managerOpts, chat.WithMirrors(messaging.NewOutboxMirror(st)))
		outbox := store.NewOutboxSender(st, messaging.SendOutbox(sender), 0)
		outbox.SetMaxAttempts(cfg.OutboxMaxAttempts)
		if err := outbox.RecoverStaleMessages(); err != nil {
			return fmt.Errorf("recovering outbox: %w", err)
		}
		workers = append(workers, outbox.Run)
	}

	var tasks *store.TaskRunner
	if cfg.IdleTimeout > 0 {
		managerOpts = append(managerOpts, chat.WithIdleTimeout(cfg.IdleTimeout, st))
		tasks = store.NewTaskRunner(st, 0)
		if err := tasks.RecoverStaleTasks(); err != nil {
			return fmt.Errorf("recovering tasks: %w", err)
		}
		workers = append(workers, tasks.Run)
	}

	manager := chat.NewManager(st, catalog.Dispatcher, managerOpts...)
	if tasks != nil {
		tasks.RegisterHandler(chat.TaskExpireSession, manager.ExpireSession)
	}

	srv := api.NewServer(manager, catalog.Components, st,
		api.WithAddr(cfg.APIAddr),
		api.WithAllowedOrigins(cfg.Origins()...),
		api.WithTwilioWebhook(cfg.WebhookEnabled(sender != nil)),
		api.WithInboundDedup(st))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, work := range workers {
		work := work
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	slog.Info("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}
