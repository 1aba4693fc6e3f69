// AngelaMos | 2026
// notifier.go

package principal

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type MessageKind string

const (
	MessageVerifyEmail   MessageKind = "verify_email"
	MessageResetPassword MessageKind = "reset_password"
)

// Message is handed to the email transport. Secret is the raw single-use
// credential; a Notifier may put it in the delivered message body and
// nowhere else.
type Message struct {
	Kind        MessageKind
	PrincipalID string
	Email       string
	Secret      string
	ExpiresAt   time.Time
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier records that a message would have been sent. It never logs the
// secret or the full address.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification queued",
		"kind", string(msg.Kind),
		"principal_id", msg.PrincipalID,
		"email_domain", emailDomain(msg.Email),
		"expires_at", msg.ExpiresAt,
	)
	return nil
}

func emailDomain(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return email[at+1:]
	}
	return ""
}
