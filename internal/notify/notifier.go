// Package notify delivers trade alerts and manual-confirmation prompts.
package notify

import (
	"context"
	"time"
)

// Severity tags a notification for formatting.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityTrade Severity = "trade"
	SeverityAlert Severity = "alert"
)

// Notifier delivers messages to the operator. Implementations must not block
// the trading loop: delivery is asynchronous and best-effort.
type Notifier interface {
	// Notify enqueues a message for delivery. Dropped silently if the
	// delivery queue is full.
	Notify(severity Severity, message string)

	// RequestConfirmation asks the operator to approve an action and blocks
	// until a reply, the timeout, or context cancellation. Timeout and
	// cancellation both count as rejection: trades never proceed on silence.
	RequestConfirmation(ctx context.Context, prompt string, timeout time.Duration) bool

	// Close flushes and stops the notifier.
	Close() error
}

// Nop is a Notifier that discards everything and approves nothing.
type Nop struct{}

var _ Notifier = Nop{}

// Notify discards the message.
func (Nop) Notify(Severity, string) {}

// RequestConfirmation always rejects.
func (Nop) RequestConfirmation(context.Context, string, time.Duration) bool { return false }

// Close is a no-op.
func (Nop) Close() error { return nil }

// Auto is a Notifier that discards messages but approves every confirmation.
// Used when the bot runs unattended in AUTO mode.
type Auto struct{}

var _ Notifier = Auto{}

// Notify discards the message.
func (Auto) Notify(Severity, string) {}

// RequestConfirmation always approves.
func (Auto) RequestConfirmation(context.Context, string, time.Duration) bool { return true }

// Close is a no-op.
func (Auto) Close() error { return nil }
