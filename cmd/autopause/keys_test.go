package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/trigger"
)

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		name string
		seq  string
		want Key
	}{
		{"delete", "\x7f", KeyBackspace},
		{"ctrl-h", "\x08", KeyBackspace},
		{"carriage return", "\r", KeyEnter},
		{"bare escape", "\x1b", KeyEscape},
		{"ctrl-c", "\x03", KeyInterrupt},
		{"xterm f1", "\x1bOP", KeyF1},
		{"vt220 f1", "\x1b[11~", KeyF1},
		{"linux console f1", "\x1b[[A", KeyF1},
		{"arrow up", "\x1b[A", KeyOther},
		{"letter", "a", KeyOther},
		{"empty", "", KeyNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeKey([]byte(tt.seq)))
		})
	}
}

func TestKeyboard_WaitKeySkipsUnacceptedKeys(t *testing.T) {
	kb := NewKeyboard(strings.NewReader("xy\x1b[A\x1bOP\x7f"), -1)

	key, err := kb.WaitKey(context.Background(), func(k Key) bool {
		return k == KeyF1 || k == KeyBackspace
	})
	require.NoError(t, err)
	assert.Equal(t, KeyF1, key)

	key, err = kb.WaitKey(context.Background(), func(k Key) bool {
		return k == KeyF1 || k == KeyBackspace
	})
	require.NoError(t, err)
	assert.Equal(t, KeyBackspace, key)
}

func TestKeyboard_WaitKeyObservesContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	kb := NewKeyboard(r, -1)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	start := time.Now()
	key, err := kb.WaitKey(ctx, func(Key) bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KeyNone, key)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestKeyboard_ReadLine(t *testing.T) {
	kb := NewKeyboard(strings.NewReader("2\r\nkitchen speaker\nlast"), -1)
	ctx := context.Background()

	line, err := kb.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", line)

	line, err = kb.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kitchen speaker", line)

	line, err = kb.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = kb.ReadLine(ctx)
	assert.ErrorIs(t, err, errInputClosed)
}

func TestFormatTriggerLine(t *testing.T) {
	ev := trigger.Event{
		Device: "DELL U2720Q",
		Time:   time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local),
	}
	line := formatTriggerLine(ev)
	assert.Contains(t, line, "[14:05:09] DISCONNECTION DETECTED: DELL U2720Q")
	assert.True(t, strings.HasSuffix(line, "\r\n"))
}

func TestConsoleListenerSkipsDebounced(t *testing.T) {
	var sb strings.Builder
	l := consoleListener(&sb)

	l.OnTrigger(trigger.Event{Device: "a", Time: time.Now(), Debounced: true})
	assert.Empty(t, sb.String())

	l.OnTrigger(trigger.Event{Device: "b", Time: time.Now()})
	assert.Contains(t, sb.String(), "DISCONNECTION DETECTED: b")
}
