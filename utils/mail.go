package utils

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier delivers password reset links.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

type SendGridNotifier struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridNotifier(apiKey, fromName, fromAddress string) *SendGridNotifier {
	return &SendGridNotifier{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (n *SendGridNotifier) SendPasswordReset(ctx context.Context, email, link string) error {
	to := mail.NewEmail("", email)
	subject := "Password Reset"

	plainTextContent := fmt.Sprintf("Reset your password:\n%s\n\nThe link expires in one hour.", link)
	escaped := html.EscapeString(link)
	htmlContent := fmt.Sprintf(`<p>Reset your password:</p><p><a href="%s">%s</a></p><p>The link expires in one hour.</p>`, escaped, escaped)

	message := mail.NewSingleEmail(n.from, subject, to, plainTextContent, htmlContent)
	response, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	log.Info().Str("to", email).Int("status", response.StatusCode).Msg("password reset email sent")
	return nil
}

// LogNotifier stands in for a mail transport during development. The link
// is only visible at debug level.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	log.Warn().Str("to", email).Msg("mail transport not configured, reset email not sent")
	log.Debug().Str("to", email).Str("link", link).Msg("password reset link")
	return nil
}

type resetMail struct {
	email string
	link  string
}

// AsyncNotifier hands reset emails to a background worker so the request
// that issued the token never waits on the mail provider.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan resetMail
	wg     sync.WaitGroup
}

func NewAsyncNotifier(next Notifier, queueSize int) *AsyncNotifier {
	n := &AsyncNotifier{
		next:    next,
		timeout: 30 * time.Second,
		jobs:    make(chan resetMail, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// SendPasswordReset enqueues the mail. The request context is not used for
// delivery since the request finishes first.
func (n *AsyncNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("notifier closed")
	}

	select {
	case n.jobs <- resetMail{email: email, link: link}:
		return nil
	default:
		return ErrMailQueueFull
	}
}

func (n *AsyncNotifier) run() {
	defer n.wg.Done()
	for job := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.next.SendPasswordReset(ctx, job.email, job.link); err != nil {
			log.Error().Err(err).Str("to", job.email).Msg("failed to send password reset email")
		}
		cancel()
	}
}

// Close stops accepting mail and waits for queued mail to be delivered.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
