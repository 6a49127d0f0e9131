package notifier

import "context"

// Notifier pushes report messages to an external channel.
type Notifier interface {
	Send(text string) error
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// NoopNotifier swallows messages. Used when no channel is configured.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (*NoopNotifier) Send(string) error { return nil }

func (*NoopNotifier) SendWithRetry(context.Context, string, int) error { return nil }
