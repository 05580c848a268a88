package ports

import (
	"context"

	"github.com/layer-3/pairgate/core"
)

// EventPublisher publishes lifecycle events to notify other instances
type EventPublisher interface {
	Publish(ctx context.Context, event core.LifecycleEvent) error
}
