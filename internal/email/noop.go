package email

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of delivering them.
// Used when email.smtp_host is not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (n *LogSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("email not delivered (no SMTP configured)",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
