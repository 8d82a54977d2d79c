// Package registry keeps the devices the user taught the tool during this
// process, and runs the learning capture that creates them.
//
// Saved devices live in memory only; nothing is written to disk.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"autopause/internal/device"
	"autopause/internal/logging"
	"autopause/internal/notify"
)

var (
	// ErrCancelled is returned when learning is cancelled before a device
	// was captured or named.
	ErrCancelled = errors.New("registry: learning cancelled")

	// ErrCaptureEnded is returned when the capture subscription closed
	// before any removal arrived.
	ErrCaptureEnded = errors.New("registry: capture subscription ended")

	// ErrInvalidDevice is returned by Add for devices without an identifier
	// or with an unknown category.
	ErrInvalidDevice = errors.New("registry: invalid saved device")
)

// SavedDevice is a user-confirmed device matched by hardware identifier.
type SavedDevice struct {
	FriendlyName string          `json:"friendly_name"`
	HardwareID   string          `json:"hardware_id"`
	Category     device.Category `json:"category"`
}

// Registry is an append-only list of saved devices. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices []SavedDevice
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add appends d.
func (r *Registry) Add(d SavedDevice) error {
	if strings.TrimSpace(d.HardwareID) == "" {
		return fmt.Errorf("%w: empty hardware id", ErrInvalidDevice)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: unknown category %d", ErrInvalidDevice, int(d.Category))
	}
	if strings.TrimSpace(d.FriendlyName) == "" {
		d.FriendlyName = d.HardwareID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, d)
	return nil
}

// ListByCategory returns saved devices of category c in insertion order.
// The result is never nil.
func (r *Registry) ListByCategory(c device.Category) []SavedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SavedDevice, 0, len(r.devices))
	for _, d := range r.devices {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// All returns a copy of every saved device.
func (r *Registry) All() []SavedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SavedDevice, len(r.devices))
	copy(out, r.devices)
	return out
}

// Len returns the number of saved devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// RenameFunc asks for a friendly name for a captured device. A blank answer
// keeps the captured name; an error aborts learning.
type RenameFunc func(ctx context.Context, captured device.Record) (string, error)

// Learner captures a device by waiting for its removal.
type Learner struct {
	subscriber notify.Subscriber
	registry   *Registry
	logger     *slog.Logger
}

// NewLearner creates a learner that saves into reg.
func NewLearner(subscriber notify.Subscriber, reg *Registry, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Learner{subscriber: subscriber, registry: reg, logger: logger}
}

// Capture subscribes to all device removals and returns the first one. The
// subscription is closed on every return path. Cancelling ctx returns
// ErrCancelled.
func (l *Learner) Capture(ctx context.Context) (device.Record, error) {
	if ctx.Err() != nil {
		return device.Record{}, ErrCancelled
	}

	sub, err := l.subscriber.Subscribe(ctx, notify.DeletionQuery(""))
	if err != nil {
		return device.Record{}, fmt.Errorf("registry: start capture: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			l.logger.Debug("closing capture subscription", "error", err)
		}
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("learning cancelled")
			return device.Record{}, ErrCancelled
		case ev, ok := <-events:
			if !ok {
				return device.Record{}, ErrCaptureEnded
			}
			if ev.Kind != notify.KindRemoval || ev.ID == "" {
				continue
			}
			rec := device.Record{ID: ev.ID, Name: ev.Name}
			l.logger.Info("device captured", "id", rec.ID, "name", rec.Name)
			return rec, nil
		}
	}
}

// Learn captures a device, asks rename for a friendly name and saves it
// under category c. The registry is untouched unless Learn succeeds.
func (l *Learner) Learn(ctx context.Context, c device.Category, rename RenameFunc) (SavedDevice, error) {
	rec, err := l.Capture(ctx)
	if err != nil {
		return SavedDevice{}, err
	}

	name := rec.Name
	if rename != nil {
		override, err := rename(ctx, rec)
		if err != nil {
			return SavedDevice{}, err
		}
		if strings.TrimSpace(override) != "" {
			name = strings.TrimSpace(override)
		}
	}

	saved := SavedDevice{FriendlyName: name, HardwareID: rec.ID, Category: c}
	if err := l.registry.Add(saved); err != nil {
		return SavedDevice{}, err
	}
	l.logger.Info("device saved", "name", saved.FriendlyName, "category", c.String())
	return saved, nil
}
