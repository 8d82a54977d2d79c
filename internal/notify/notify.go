// Package notify subscribes to platform push notifications for device
// removal and display connection changes.
//
// A Subscription exposes its events as a channel. Platform callbacks never
// block: delivery is a non-blocking send on a buffered channel and overflow is
// counted and dropped. The channel is closed when the subscription ends,
// whether by Close or by an unrecoverable platform error.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotAvailable is returned when the platform has no notification
	// service.
	ErrNotAvailable = errors.New("notify: notifications not available on this platform")

	// ErrSubscribe wraps subscription establishment failures (commonly
	// insufficient privilege).
	ErrSubscribe = errors.New("notify: subscription failed")
)

// DefaultBuffer is the event channel capacity used when none is configured.
const DefaultBuffer = 64

// Kind distinguishes notification kinds.
type Kind int

const (
	// KindRemoval is a device instance deletion.
	KindRemoval Kind = iota
	// KindConnection is a display connection state change.
	KindConnection
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRemoval:
		return "removal"
	case KindConnection:
		return "connection"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one delivered notification. Handlers treat it as a read-only
// snapshot.
type Event struct {
	Kind Kind
	// ID and Name are set for removals.
	ID   string
	Name string
	// Active is set for connection events; false means signal lost.
	Active bool
	Time   time.Time
}

// Query describes what to subscribe to.
type Query struct {
	Kind Kind
	// ClassGUID scopes removals to one device class. Ignored for connection
	// queries.
	ClassGUID string
}

// DeletionQuery subscribes to device instance deletions, optionally scoped
// to a device class.
func DeletionQuery(classGUID string) Query {
	return Query{Kind: KindRemoval, ClassGUID: classGUID}
}

// MonitorConnectionQuery subscribes to display connection state changes.
func MonitorConnectionQuery() Query {
	return Query{Kind: KindConnection}
}

// Namespace returns the WMI namespace the query runs in.
func (q Query) Namespace() string {
	if q.Kind == KindConnection {
		return `root\wmi`
	}
	return `root\cimv2`
}

// WQL renders the event query.
func (q Query) WQL() string {
	if q.Kind == KindConnection {
		return "SELECT * FROM WmiMonitorConnectionEvent"
	}
	wql := "SELECT * FROM __InstanceDeletionEvent WITHIN 1 WHERE TargetInstance ISA 'Win32_PnPEntity'"
	if q.ClassGUID != "" {
		wql += fmt.Sprintf(" AND TargetInstance.ClassGuid = '%s'", q.ClassGUID)
	}
	return wql
}

// Subscription is an established notification stream.
type Subscription interface {
	// Events returns the event channel. It is closed when the subscription
	// ends.
	Events() <-chan Event
	// Dropped returns how many events were discarded because the consumer
	// fell behind.
	Dropped() uint64
	// Close unsubscribes and waits for delivery to stop. Safe to call twice.
	Close() error
}

// Subscriber establishes subscriptions. Establishment errors are returned to
// the caller and are never fatal.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// Feed is the delivery half of a subscription: a buffered channel with a
// non-blocking Send.
type Feed struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewFeed creates a feed with the given capacity.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{ch: make(chan Event, buffer)}
}

// Send delivers ev without blocking. It returns false if the event was
// dropped.
func (f *Feed) Send(ev Event) bool {
	select {
	case f.ch <- ev:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// Events returns the receive side.
func (f *Feed) Events() <-chan Event { return f.ch }

// Dropped returns the overflow count.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Close closes the channel once. The sender must not Send afterwards.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.ch) })
}
