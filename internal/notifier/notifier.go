package notifier

import (
	"errors"
	"fmt"

	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/digest"
	"github.com/ibeckermayer/slidecrawl/internal/notifier/providers"
)

// Notifier sends run summaries
type Notifier struct {
	sender  Sender
	builder *digest.Builder
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier with the given sender
func New(sender Sender) (*Notifier, error) {
	b, err := digest.New()
	if err != nil {
		return nil, err
	}
	return &Notifier{sender: sender, builder: b}, nil
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, errors.New("email: smtp_host is not set")
		}
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender)
}

// SendSummary renders and sends the summary of a finished run.
func (n *Notifier) SendSummary(run digest.Run, toAddr string) error {
	if toAddr == "" {
		return errors.New("no recipient address")
	}
	d, err := n.builder.Build(run)
	if err != nil {
		return err
	}
	return n.sender.Send(toAddr, d.Subject, d.HTMLBody, d.PlainBody)
}
