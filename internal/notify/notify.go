// Package notify delivers one-time codes to account holders.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/d9705996/schoolhub/internal/otp"
	"github.com/d9705996/schoolhub/internal/worker"
)

// Render builds the subject and body of the email carrying d.
func Render(d otp.Delivery) (subject, body string) {
	minutes := int(d.TTL.Minutes())
	switch d.Purpose {
	case otp.PurposeSignup:
		subject = "Confirm your SchoolHub account"
	case otp.PurposeAdminLogin:
		subject = "Your SchoolHub administrator sign-in code"
	default:
		subject = "Your SchoolHub sign-in code"
	}
	body = fmt.Sprintf("Your one-time code is %s.\r\n\r\nIt expires in %d minutes and can be used once.\r\n"+
		"If you did not request it, ignore this email.\r\n", d.Code, minutes)
	return subject, body
}

// Console writes codes to an io.Writer instead of sending mail. It is the
// development default; the codes never pass through the structured logger.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	log *slog.Logger
}

// NewConsole returns a Console notifier writing to out.
func NewConsole(out io.Writer, log *slog.Logger) *Console {
	return &Console{out: out, log: log}
}

// Deliver implements otp.Notifier.
func (c *Console) Deliver(ctx context.Context, d otp.Delivery) error {
	subject, body := Render(d)
	return c.Send(ctx, d.Email, subject, body)
}

// Send implements worker.Sender.
func (c *Console) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "[schoolhub] to=%s subject=%q\n%s\n", to, subject, body); err != nil {
		return fmt.Errorf("write console notification: %w", err)
	}
	c.log.Info("notification written to console", "subject", subject)
	return nil
}

// Queue hands codes to the River email worker. Delivery itself is
// asynchronous; only a failure to enqueue is reported to the caller.
type Queue struct {
	queue worker.Queue
	log   *slog.Logger
}

// NewQueue returns a Queue notifier.
func NewQueue(q worker.Queue, log *slog.Logger) *Queue {
	return &Queue{queue: q, log: log}
}

// Deliver implements otp.Notifier.
func (q *Queue) Deliver(ctx context.Context, d otp.Delivery) error {
	subject, body := Render(d)
	if err := q.queue.Enqueue(ctx, worker.EmailArgs{To: d.Email, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	q.log.Debug("notification enqueued", "purpose", d.Purpose)
	return nil
}
