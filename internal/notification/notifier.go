// Package notification delivers the bot's text messages to external
// channels (Telegram, webhooks) through a paced, non-blocking Queue.
package notification

import (
	"context"
	"errors"
	"log"

	"breakoutbot/internal/model"
)

// LogNotifier logs messages instead of sending them (useful for development).
type LogNotifier struct{}

var _ model.Messenger = (*LogNotifier)(nil)

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, text string) error {
	log.Printf("[notify] %s", text)
	return nil
}

// Multi sends every message to all messengers. Errors are joined; one
// failing channel does not stop the others.
type Multi []model.Messenger

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
