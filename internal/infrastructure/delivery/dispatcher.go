// Package delivery routes one-time codes to the email or SMS transport.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/infrastructure/smtp"
	"github.com/go-otp-auth/internal/infrastructure/sns"
)

const emailSubject = "Your Login OTP"

// Dispatcher sends messages over the transport matching a channel. A nil
// transport falls back to logging the message, which keeps local setups
// without SMTP or SNS credentials usable.
type Dispatcher struct {
	mailer smtp.Mailer
	sms    sns.SMSSender
	logger *slog.Logger
}

func NewDispatcher(mailer smtp.Mailer, sms sns.SMSSender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{mailer: mailer, sms: sms, logger: logger}
}

func (d *Dispatcher) Send(ctx context.Context, channel domain.Channel, destination, message string) error {
	switch channel {
	case domain.ChannelEmail:
		if d.mailer == nil {
			d.logger.InfoContext(ctx, "mock email", "to", destination, "subject", emailSubject, "body", message)
			return nil
		}
		if err := d.mailer.SendEmail(ctx, destination, emailSubject, message); err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		d.logger.InfoContext(ctx, "email sent", "to", destination)
		return nil
	case domain.ChannelSMS:
		if d.sms == nil {
			d.logger.InfoContext(ctx, "mock sms", "to", destination, "body", message)
			return nil
		}
		if err := d.sms.SendSMS(ctx, destination, message); err != nil {
			return fmt.Errorf("send sms: %w", err)
		}
		d.logger.InfoContext(ctx, "sms sent", "to", destination)
		return nil
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}
