// Package email delivers participant notifications.
package email

import "context"

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
