// Package worker bootstraps the River job queue and the jobs it runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// ErrQueueDisabled is returned by Enqueue when no River client is running.
var ErrQueueDisabled = errors.New("worker queue disabled")

// finishedJobRetention bounds how long finished rows, and the codes in
// their bodies, stay in the job table. River applies it to every kind;
// email delivery is the only one.
const finishedJobRetention = 15 * time.Minute

// EmailArgs is one outbound email. Codes travel in Body, so the job table
// is sensitive; see finishedJobRetention.
type EmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Kind returns the unique job type identifier for email delivery jobs.
func (EmailArgs) Kind() string { return "email_delivery" }

// InsertOpts caps retries: a one-time code is useless after a few minutes.
func (EmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3}
}

// Sender delivers a rendered email synchronously.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type emailWorker struct {
	river.WorkerDefaults[EmailArgs]
	sender Sender
	log    *slog.Logger
}

func (w *emailWorker) Work(ctx context.Context, job *river.Job[EmailArgs]) error {
	if err := w.sender.Send(ctx, job.Args.To, job.Args.Subject, job.Args.Body); err != nil {
		w.log.Warn("email delivery failed", "job_id", job.ID, "attempt", job.Attempt, "err", err)
		return err
	}
	w.log.Debug("email delivered", "job_id", job.ID)
	return nil
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, args river.JobArgs) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Enqueue inserts a job for asynchronous processing.
func (c *Client) Enqueue(ctx context.Context, args river.JobArgs) error {
	if _, err := c.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	return nil
}

// noopQueue is used when River is unavailable (e.g. DB_DRIVER=sqlite).
type noopQueue struct{ log *slog.Logger }

func (n *noopQueue) Start(_ context.Context) error {
	n.log.Info("worker queue disabled (sqlite driver; River requires postgres)")
	return nil
}
func (n *noopQueue) Stop(_ context.Context) error { return nil }
func (n *noopQueue) Enqueue(_ context.Context, _ river.JobArgs) error {
	return ErrQueueDisabled
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a fully-functional River client backed by pool.
//   - anything else: returns a no-op queue that logs a startup notice.
//
// pool may be nil when driver != "postgres".
func New(_ context.Context, pool *pgxpool.Pool, driver string, concurrency int, sender Sender, log *slog.Logger) (Queue, error) {
	if driver != "postgres" {
		return &noopQueue{log: log}, nil
	}
	client, err := river.NewClient(riverpgxv5.New(pool), clientConfig(concurrency, sender, log))
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

func clientConfig(concurrency int, sender Sender, log *slog.Logger) *river.Config {
	workers := river.NewWorkers()
	river.AddWorker(workers, &emailWorker{sender: sender, log: log})
	return &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers:                     workers,
		Logger:                      log,
		CompletedJobRetentionPeriod: finishedJobRetention,
		CancelledJobRetentionPeriod: finishedJobRetention,
		DiscardedJobRetentionPeriod: finishedJobRetention,
	}
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
