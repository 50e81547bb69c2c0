package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"workchat-backend/internal/config"
	"workchat-backend/pkg/logger"
)

// Invitation is the notification payload for an outbound chat invitation
type Invitation struct {
	RecipientEmail   string
	InviterName      string
	ConversationName string
	Message          string
	AcceptURL        string
}

// Notifier delivers out-of-band notifications to invitees. Delivery is
// always fire-and-forget from the caller's perspective.
type Notifier interface {
	SendInvitation(ctx context.Context, inv *Invitation) error
}

// EmailNotifier sends invitation emails over SMTP
type EmailNotifier struct {
	cfg *config.SMTPConfig
}

// NewEmailNotifier creates a new EmailNotifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// SendInvitation delivers one invitation email
func (n *EmailNotifier) SendInvitation(ctx context.Context, inv *Invitation) error {
	subject := fmt.Sprintf("%s invited you to a conversation", inv.InviterName)
	if inv.ConversationName != "" {
		subject = fmt.Sprintf("%s invited you to %q", inv.InviterName, inv.ConversationName)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", inv.RecipientEmail)
	fmt.Fprintf(&body, "Subject: %s\r\n", subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&body, "%s has invited you to join a conversation.\r\n\r\n", inv.InviterName)
	if inv.Message != "" {
		fmt.Fprintf(&body, "\"%s\"\r\n\r\n", inv.Message)
	}
	fmt.Fprintf(&body, "Join here: %s\r\n", inv.AcceptURL)

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{inv.RecipientEmail}, []byte(body.String())); err != nil {
		return fmt.Errorf("failed to send invitation email: %w", err)
	}

	logger.Info("invitation email sent", zap.String("recipient", inv.RecipientEmail))
	return nil
}
