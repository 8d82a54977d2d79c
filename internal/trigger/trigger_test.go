package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/logging"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration, base time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = base.Add(offset)
}

// recordingInjector counts injected keys.
type recordingInjector struct {
	mu   sync.Mutex
	keys []Key
	err  error
}

func (r *recordingInjector) Inject(k Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, k)
	return r.err
}

func (r *recordingInjector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func TestDebouncer_SlidingWindowExample(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()
	inj := &recordingInjector{}
	d := NewDebouncer(inj, WithClock(clock.Now))

	offsets := []time.Duration{0, 500 * time.Millisecond, 2900 * time.Millisecond, 3100 * time.Millisecond}
	want := []bool{true, false, false, true}

	for i, off := range offsets {
		clock.Set(off, base)
		assert.Equal(t, want[i], d.Fire("Mouse"), "event at %v", off)
	}
	assert.Equal(t, 2, inj.count())
	assert.Equal(t, []Key{KeyEscape, KeyEscape}, inj.keys)
}

func TestDebouncer_WindowIsGlobalAcrossDevices(t *testing.T) {
	clock := newFakeClock()
	inj := &recordingInjector{}
	d := NewDebouncer(inj, WithClock(clock.Now))

	assert.True(t, d.Fire("Mouse"))
	assert.False(t, d.Fire("Keyboard"))
	assert.False(t, d.Fire("Monitor"))
	assert.Equal(t, 1, inj.count())
}

func TestDebouncer_ConcurrentBurstInjectsOnce(t *testing.T) {
	inj := &recordingInjector{}
	d := NewDebouncer(inj)

	var wg sync.WaitGroup
	var fired atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Fire("Hub") {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 1, inj.count())
}

func TestDebouncer_ListenersSeeFiredAndDebounced(t *testing.T) {
	clock := newFakeClock()
	var events []Event
	d := NewDebouncer(&recordingInjector{},
		WithClock(clock.Now),
		WithKey(KeySpace),
		WithListener(ListenerFunc(func(ev Event) { events = append(events, ev) })),
	)

	ctx := logging.ContextWithSessionID(context.Background(), "sess-1")
	d.FireContext(ctx, "Pad")
	d.FireContext(ctx, "Pad")

	require.Len(t, events, 2)
	assert.False(t, events[0].Debounced)
	assert.True(t, events[1].Debounced)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Equal(t, KeySpace, events[0].Key)
}

func TestDebouncer_InjectionErrorStillConsumesWindow(t *testing.T) {
	clock := newFakeClock()
	inj := &recordingInjector{err: errors.New("access denied")}
	var got Event
	d := NewDebouncer(inj, WithClock(clock.Now), WithListener(ListenerFunc(func(ev Event) { got = ev })))

	assert.True(t, d.Fire("Mouse"))
	assert.Error(t, got.Err)
	assert.False(t, d.Fire("Mouse"))
}

func TestDebouncer_SetWindow(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()
	d := NewDebouncer(&recordingInjector{}, WithClock(clock.Now))
	d.SetWindow(time.Second)
	assert.Equal(t, time.Second, d.Window())

	assert.True(t, d.Fire("a"))
	clock.Set(1500*time.Millisecond, base)
	assert.True(t, d.Fire("a"))
}

func TestParseKey(t *testing.T) {
	for _, name := range KeyNames() {
		k, err := ParseKey(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.String())
	}

	k, err := ParseKey("  ESCAPE ")
	require.NoError(t, err)
	assert.Equal(t, KeyEscape, k)

	_, err = ParseKey("hyper")
	assert.Error(t, err)
	assert.Equal(t, "vk_0x7B", Key(0x7B).String())
}
