package store

import (
	"context"
	"log/slog"
	"time"
)

// Outbox sender defaults.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 5
)

// OutboxSendFunc performs the actual delivery of one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to deliver them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender. A non-positive pollInterval selects
// DefaultOutboxPollInterval.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    DefaultOutboxMaxAttempts,
		now:            time.Now,
	}
}

// SetMaxAttempts sets how many failed attempts abandon a message. Values below 1 are ignored.
func (s *OutboxSender) SetMaxAttempts(n int) {
	if n >= 1 {
		s.maxAttempts = n
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(s.now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// Drain makes one delivery pass over the due messages and returns how many were sent.
func (s *OutboxSender) Drain(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Drain: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		slog.Debug("OutboxSender.Drain: sending message", "id", msg.ID, "session", msg.SessionID, "attempt", msg.Attempts+1)
		err := s.sendFunc(ctx, msg)
		switch {
		case err == nil:
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.Drain: mark sent error", "id", msg.ID, "error", err)
			}
			sent++
		case msg.Attempts+1 >= s.maxAttempts:
			slog.Error("OutboxSender.Drain: giving up on message", "id", msg.ID, "session", msg.SessionID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.AbandonOutboxMessage(msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.Drain: abandon message error", "id", msg.ID, "error", err)
			}
		default:
			// Exponential backoff: 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
			slog.Warn("OutboxSender.Drain: send failed, will retry", "id", msg.ID, "retryIn", backoff, "error", err)
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("OutboxSender.Drain: fail message error", "id", msg.ID, "error", err)
			}
		}
	}
	return sent
}
