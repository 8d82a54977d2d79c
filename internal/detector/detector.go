// Package detector runs disconnection detection sessions.
//
// A session picks the best available mode when it starts: smart display
// notifications, then generic removal notifications, then polling. Every mode
// feeds removals through the same Target.Match policy and reports confirmed
// matches to the trigger debouncer. At most one session is active per Engine;
// starting a new one stops the previous one first.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"autopause/internal/device"
	"autopause/internal/inventory"
	"autopause/internal/logging"
	"autopause/internal/notify"
	"autopause/internal/trigger"
)

// DefaultPollInterval is the poller cadence.
const DefaultPollInterval = time.Second

var (
	// ErrPollerFailed is reported by Session.Err when the polling loop died.
	ErrPollerFailed = errors.New("detector: polling stopped unexpectedly")

	// ErrSubscriptionEnded is reported by Session.Err when the platform closed
	// an active subscription.
	ErrSubscriptionEnded = errors.New("detector: notification subscription ended")
)

// State is the session state machine.
type State int

const (
	SelectingMode State = iota
	SmartDisplayActive
	EventActive
	PollingActive
	Stopped
)

func (s State) String() string {
	switch s {
	case SelectingMode:
		return "selecting"
	case SmartDisplayActive:
		return "smart-display"
	case EventActive:
		return "event"
	case PollingActive:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is where the shell navigates after a session stops. Both outcomes
// share the same cleanup.
type Outcome int

const (
	ReturnToList Outcome = iota
	ReturnToMainMenu
)

func (o Outcome) String() string {
	if o == ReturnToMainMenu {
		return "main-menu"
	}
	return "device-list"
}

// Observer receives session lifecycle notifications. Implementations must not
// block.
type Observer interface {
	SessionStarted(t Target, mode State)
	ModeFallback(from, to State, err error)
	SessionStopped(t Target, mode State, dropped uint64)
}

// Options configures an Engine.
type Options struct {
	PollInterval time.Duration
	// ForcePolling skips notification subscriptions entirely.
	ForcePolling bool
	Logger       *slog.Logger
	Observer     Observer
}

// Engine owns the single active session.
type Engine struct {
	scanner    *inventory.Scanner
	subscriber notify.Subscriber
	debouncer  *trigger.Debouncer

	mu       sync.Mutex
	opts     Options
	logger   *slog.Logger
	active   *Session
	observer Observer
}

// NewEngine creates an engine.
func NewEngine(scanner *inventory.Scanner, subscriber notify.Subscriber, debouncer *trigger.Debouncer, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		scanner:    scanner,
		subscriber: subscriber,
		debouncer:  debouncer,
		opts:       opts,
		logger:     logger,
		observer:   opts.Observer,
	}
}

// SetForcePolling toggles notification subscriptions for future sessions.
func (e *Engine) SetForcePolling(force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.ForcePolling = force
}

// Start stops the active session, if any, and starts a new one for t. The
// returned session is already in its detection mode.
func (e *Engine) Start(ctx context.Context, t Target) (*Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.active.Stop(ReturnToList)
		e.active = nil
	}

	id := uuid.NewString()
	ctx = logging.ContextWithSessionID(ctx, id)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:         id,
		target:     t,
		ctx:        ctx,
		cancel:     cancel,
		state:      SelectingMode,
		scanner:    e.scanner,
		subscriber: e.subscriber,
		debouncer:  e.debouncer,
		interval:   e.opts.PollInterval,
		observer:   e.observer,
		logger:     logging.FromContext(ctx, e.logger).With("target", t.Title, "strategy", t.Strategy().String()),
	}
	s.establish(e.opts.ForcePolling)

	e.active = s
	return s, nil
}

// Active returns the running session, or nil.
func (e *Engine) Active() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Stop stops the active session, if any, and returns o.
func (e *Engine) Stop(o Outcome) Outcome {
	e.mu.Lock()
	s := e.active
	e.active = nil
	e.mu.Unlock()

	if s != nil {
		s.Stop(o)
	}
	return o
}

// Session is one listening session.
type Session struct {
	id     string
	target Target
	ctx    context.Context
	cancel context.CancelFunc

	scanner    *inventory.Scanner
	subscriber notify.Subscriber
	debouncer  *trigger.Debouncer
	interval   time.Duration
	observer   Observer
	logger     *slog.Logger

	mu    sync.Mutex
	state State
	mode  State
	sub   notify.Subscription
	err   error

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Target returns the session target.
func (s *Session) Target() Target { return s.target }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the detection mode chosen at start, which is kept after the
// session stops.
func (s *Session) Mode() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Err reports a detector failure that left the session without an active
// detector. The session keeps running until stopped.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Stop tears down the subscription or poller and moves to Stopped. It returns
// o and is safe to call more than once.
func (s *Session) Stop(o Outcome) Outcome {
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()

		var dropped uint64
		if sub != nil {
			if err := sub.Close(); err != nil {
				s.logger.Debug("closing subscription", "error", err)
			}
			dropped = sub.Dropped()
		}
		s.wg.Wait()

		s.mu.Lock()
		s.state = Stopped
		mode := s.mode
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.SessionStopped(s.target, mode, dropped)
		}
		s.logger.Info("detection stopped", "outcome", o.String(), "dropped_events", dropped)
	})
	return o
}

// establish walks the mode fallback chain.
func (s *Session) establish(forcePolling bool) {
	if !forcePolling {
		if s.target.TrySmartDisplay {
			sub, err := s.subscriber.Subscribe(s.ctx, notify.MonitorConnectionQuery())
			if err == nil {
				s.runEvents(sub, SmartDisplayActive)
				return
			}
			s.fallback(SmartDisplayActive, EventActive, err)
		}

		sub, err := s.subscriber.Subscribe(s.ctx, s.target.DeletionQuery())
		if err == nil {
			s.runEvents(sub, EventActive)
			return
		}
		s.fallback(EventActive, PollingActive, err)
	}
	s.runPolling()
}

func (s *Session) fallback(from, to State, err error) {
	s.logger.Warn("notifications unavailable, degrading", "from", from.String(), "to", to.String(), "error", err)
	if s.observer != nil {
		s.observer.ModeFallback(from, to, err)
	}
}

func (s *Session) enter(mode State) {
	s.mu.Lock()
	s.state = mode
	s.mode = mode
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SessionStarted(s.target, mode)
	}
	s.logger.Info("detection started", "mode", mode.String())
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Error("detector failed, no active detection", "error", err)
}

func (s *Session) runEvents(sub notify.Subscription, mode State) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.enter(mode)

	s.wg.Add(1)
	go s.consume(sub)
}

// consume is the matcher goroutine for event modes.
func (s *Session) consume(sub notify.Subscription) {
	defer s.wg.Done()
	events := sub.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if s.ctx.Err() == nil {
					s.fail(ErrSubscriptionEnded)
				}
				return
			}
			s.handle(ev)
		}
	}
}

// handle processes one event. A panic drops the event only.
func (s *Session) handle(ev notify.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("dropped event after handler panic", "panic", r)
		}
	}()

	switch ev.Kind {
	case notify.KindConnection:
		if !ev.Active {
			s.fire(SignalLostName)
		}
	case notify.KindRemoval:
		s.removed(device.Record{ID: ev.ID, Name: ev.Name})
	}
}

func (s *Session) removed(rec device.Record) {
	if name, ok := s.target.Match(rec); ok {
		s.fire(name)
	}
}

func (s *Session) fire(name string) {
	if s.debouncer != nil {
		s.debouncer.FireContext(s.ctx, name)
	}
}

func (s *Session) runPolling() {
	s.enter(PollingActive)
	s.wg.Add(1)
	go s.poll()
}

// poll diffs consecutive snapshots once per interval until cancelled.
func (s *Session) poll() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("%w: %v", ErrPollerFailed, r))
		}
	}()

	prev := s.snapshot()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.ctx.Err() != nil {
			return
		}

		cur := s.snapshot()
		for _, rec := range device.Diff(prev, cur) {
			s.removed(rec)
		}
		prev = cur
	}
}

// snapshot captures the poll inventory. Identifier sessions see every device
// because a learned device may carry a name the denylist hides.
func (s *Session) snapshot() device.Snapshot {
	if s.target.MatchByID {
		return s.scanner.SnapshotAll(s.ctx)
	}
	return s.scanner.Snapshot(s.ctx, s.target.Category)
}
