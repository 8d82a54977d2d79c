//go:build windows

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"autopause/internal/logging"
)

const (
	sFalse = 0x00000001

	// wbemErrTimedOut is returned by NextEvent when no event arrived in time.
	wbemErrTimedOut = 0x80043001

	// nextEventTimeout bounds how long the delivery loop waits before it
	// re-checks for cancellation.
	nextEventTimeout = 250 * time.Millisecond
)

// WMISubscriber subscribes through WMI event queries (SWbemServices
// ExecNotificationQuery).
type WMISubscriber struct {
	logger *slog.Logger
	buffer int
}

// NewPlatformSubscriber returns the WMI subscriber.
func NewPlatformSubscriber(logger *slog.Logger, buffer int) Subscriber {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WMISubscriber{logger: logger, buffer: buffer}
}

type wmiSubscription struct {
	feed   *Feed
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe establishes q. It returns only after the event source is open,
// so a privilege failure is reported here rather than on the channel.
func (s *WMISubscriber) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &wmiSubscription{
		feed:   NewFeed(s.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan error, 1)
	go sub.run(ctx, q, ready, s.logger.With("query", q.Kind.String()))

	if err := <-ready; err != nil {
		cancel()
		<-sub.done
		return nil, fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	return sub, nil
}

func (sub *wmiSubscription) Events() <-chan Event { return sub.feed.Events() }

func (sub *wmiSubscription) Dropped() uint64 { return sub.feed.Dropped() }

func (sub *wmiSubscription) Close() error {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
	})
	return nil
}

// run owns the COM apartment for the lifetime of the subscription.
func (sub *wmiSubscription) run(ctx context.Context, q Query, ready chan<- error, logger *slog.Logger) {
	defer close(sub.done)
	defer sub.feed.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || (oleErr.Code() != ole.S_OK && oleErr.Code() != sFalse) {
			ready <- fmt.Errorf("CoInitializeEx: %w", err)
			return
		}
	}
	defer ole.CoUninitialize()

	source, release, err := openEventSource(q)
	if err != nil {
		ready <- err
		return
	}
	defer release()
	ready <- nil

	timeoutMs := int(nextEventTimeout / time.Millisecond)
	for ctx.Err() == nil {
		raw, err := oleutil.CallMethod(source, "NextEvent", timeoutMs)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			logger.Warn("event delivery stopped", "error", err)
			return
		}

		ev, ok := decodeEvent(q.Kind, raw)
		raw.Clear()
		if !ok {
			logger.Debug("dropped malformed event")
			continue
		}
		if !sub.feed.Send(ev) {
			logger.Warn("event dropped, consumer is behind", "dropped", sub.feed.Dropped())
		}
	}
}

// openEventSource connects to the query namespace and starts the
// notification query. release frees every COM object it created.
func openEventSource(q Query) (*ole.IDispatch, func(), error) {
	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, nil, fmt.Errorf("create SWbemLocator: %w", err)
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, nil, fmt.Errorf("query IDispatch: %w", err)
	}

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", nil, q.Namespace())
	if err != nil {
		locator.Release()
		return nil, nil, fmt.Errorf("connect %s: %w", q.Namespace(), err)
	}
	service := serviceRaw.ToIDispatch()

	sourceRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", q.WQL())
	if err != nil {
		serviceRaw.Clear()
		locator.Release()
		return nil, nil, fmt.Errorf("exec notification query: %w", err)
	}

	release := func() {
		sourceRaw.Clear()
		serviceRaw.Clear()
		locator.Release()
	}
	return sourceRaw.ToIDispatch(), release, nil
}

// isTimeout reports whether err is the NextEvent timeout.
func isTimeout(err error) bool {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return false
	}
	if oleErr.Code() == wbemErrTimedOut {
		return true
	}
	switch ex := oleErr.SubError().(type) {
	case ole.EXCEPINFO:
		return ex.SCODE() == wbemErrTimedOut
	case *ole.EXCEPINFO:
		return ex.SCODE() == wbemErrTimedOut
	}
	return false
}

// decodeEvent extracts an Event from a WMI event object. Malformed payloads
// return ok=false; a panic inside the COM accessors counts as malformed.
func decodeEvent(kind Kind, raw *ole.VARIANT) (ev Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ev, ok = Event{}, false
		}
	}()

	obj := raw.ToIDispatch()
	if obj == nil {
		return Event{}, false
	}

	if kind == KindConnection {
		v, err := oleutil.GetProperty(obj, "Active")
		if err != nil {
			return Event{}, false
		}
		defer v.Clear()
		active, isBool := v.Value().(bool)
		if !isBool {
			return Event{}, false
		}
		return Event{Kind: KindConnection, Active: active, Time: time.Now()}, true
	}

	ti, err := oleutil.GetProperty(obj, "TargetInstance")
	if err != nil {
		return Event{}, false
	}
	defer ti.Clear()
	target := ti.ToIDispatch()
	if target == nil {
		return Event{}, false
	}

	name := stringProperty(target, "Caption")
	if name == "" {
		name = "Unknown"
	}
	return Event{
		Kind: KindRemoval,
		ID:   stringProperty(target, "DeviceID"),
		Name: name,
		Time: time.Now(),
	}, true
}

func stringProperty(obj *ole.IDispatch, name string) string {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return ""
	}
	defer v.Clear()
	s, _ := v.Value().(string)
	return s
}
