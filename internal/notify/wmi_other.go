//go:build !windows

package notify

import (
	"context"
	"log/slog"
)

type unavailableSubscriber struct{}

// NewPlatformSubscriber returns a subscriber that always fails, which sends
// detection sessions straight to polling.
func NewPlatformSubscriber(*slog.Logger, int) Subscriber {
	return unavailableSubscriber{}
}

func (unavailableSubscriber) Subscribe(context.Context, Query) (Subscription, error) {
	return nil, ErrNotAvailable
}
