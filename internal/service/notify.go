package service

import (
	"context"

	"github.com/iliyamo/event-credentials/internal/queue"
)

// Notifier receives fire-and-forget notifications after a ledger
// transaction commits.  Implementations must not block.
type Notifier interface {
	Notify(msg queue.Message)
}

// Deliverer publishes a message and reports the result.  The import
// pipeline uses it for credential delivery so failures can be counted.
type Deliverer interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// NopNotifier discards notifications.  It is used when no broker is
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(queue.Message) {}

func (NopNotifier) Publish(context.Context, queue.Message) error { return nil }
