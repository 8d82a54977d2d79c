// Package trigger turns confirmed disconnections into a single synthetic key
// press, suppressing repeats inside a global cooldown window.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"autopause/internal/logging"
)

// DefaultWindow is the cooldown between two injected key presses.
const DefaultWindow = 3 * time.Second

// ErrNotAvailable is returned by injectors on platforms without synthetic input.
var ErrNotAvailable = errors.New("trigger: key injection not available on this platform")

// Key is a Windows virtual-key code.
type Key uint16

// Supported trigger keys.
const (
	KeyEscape         Key = 0x1B
	KeySpace          Key = 0x20
	KeyPause          Key = 0x13
	KeyMediaPlayPause Key = 0xB3
	KeyMediaStop      Key = 0xB2
	KeyVolumeMute     Key = 0xAD
)

var keyNames = map[string]Key{
	"escape":          KeyEscape,
	"space":           KeySpace,
	"pause":           KeyPause,
	"media_playpause": KeyMediaPlayPause,
	"media_stop":      KeyMediaStop,
	"volume_mute":     KeyVolumeMute,
}

// ParseKey resolves a configured key name ("escape", "space", ...).
func ParseKey(name string) (Key, error) {
	if k, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown trigger key %q (known: %s)", name, strings.Join(KeyNames(), ", "))
}

// KeyNames lists the accepted key names, sorted.
func KeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for n := range keyNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String returns the configured name of the key.
func (k Key) String() string {
	for n, v := range keyNames {
		if v == k {
			return n
		}
	}
	return fmt.Sprintf("vk_0x%02X", uint16(k))
}

// Injector synthesizes a key-down immediately followed by a key-up at the OS
// input layer.
type Injector interface {
	Inject(key Key) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(Key) error

// Inject calls f(key).
func (f InjectorFunc) Inject(key Key) error { return f(key) }

// Event describes one call to Fire.
type Event struct {
	Device    string
	SessionID string
	Key       Key
	Time      time.Time
	// Debounced is true when the call fell inside the cooldown window and
	// nothing was injected.
	Debounced bool
	// Err is the injection error, if any.
	Err error
}

// Listener observes trigger events. OnTrigger runs on the caller's goroutine
// (event callback or poller) and must not block.
type Listener interface {
	OnTrigger(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnTrigger calls f(ev).
func (f ListenerFunc) OnTrigger(ev Event) { f(ev) }

// Debouncer enforces a single global cooldown across all devices and
// sessions: a burst of simultaneous disconnections injects one key press.
type Debouncer struct {
	mu        sync.Mutex
	last      time.Time
	window    time.Duration
	key       Key
	injector  Injector
	now       func() time.Time
	listeners []Listener
	logger    *slog.Logger
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithWindow sets the cooldown window.
func WithWindow(d time.Duration) Option {
	return func(db *Debouncer) { db.window = d }
}

// WithKey sets the injected key.
func WithKey(k Key) Option {
	return func(db *Debouncer) { db.key = k }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(db *Debouncer) { db.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *Debouncer) { db.logger = l }
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(db *Debouncer) { db.listeners = append(db.listeners, l) }
}

// NewDebouncer creates a debouncer that presses ESC through injector.
func NewDebouncer(injector Injector, opts ...Option) *Debouncer {
	d := &Debouncer{
		window:   DefaultWindow,
		key:      KeyEscape,
		injector: injector,
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddListener registers l for all subsequent events.
func (d *Debouncer) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// SetWindow changes the cooldown window (config hot reload).
func (d *Debouncer) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = window
}

// Window returns the current cooldown window.
func (d *Debouncer) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Key returns the injected key.
func (d *Debouncer) Key() Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.key
}

// Fire reports a confirmed disconnection of device. It returns true when a
// key press was injected and false when the call was debounced.
func (d *Debouncer) Fire(device string) bool {
	return d.FireContext(context.Background(), device)
}

// FireContext is Fire with the session ID taken from ctx.
func (d *Debouncer) FireContext(ctx context.Context, device string) bool {
	d.mu.Lock()
	now := d.now()
	debounced := !d.last.IsZero() && now.Sub(d.last) < d.window
	if !debounced {
		d.last = now
	}
	key := d.key
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	ev := Event{
		Device:    device,
		SessionID: logging.SessionIDFromContext(ctx),
		Key:       key,
		Time:      now,
		Debounced: debounced,
	}

	logger := logging.FromContext(ctx, d.logger)
	if debounced {
		logger.Debug("trigger debounced", "device", device)
	} else {
		if d.injector != nil {
			ev.Err = d.injector.Inject(key)
		}
		if ev.Err != nil {
			logger.Error("key injection failed", "device", device, "key", key.String(), "error", ev.Err)
		} else {
			logger.Info("disconnection triggered", "device", device, "key", key.String())
		}
	}

	for _, l := range listeners {
		l.OnTrigger(ev)
	}
	return !debounced
}
