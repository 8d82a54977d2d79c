package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// keyPollInterval bounds how long a key wait goes without checking its
// context.
const keyPollInterval = 100 * time.Millisecond

// escapeTimeout is how long to wait for the rest of an escape sequence.
const escapeTimeout = 50 * time.Millisecond

// Key is a decoded control key.
type Key int

const (
	KeyNone Key = iota
	KeyBackspace
	KeyF1
	KeyEnter
	KeyEscape
	KeyInterrupt
	KeyOther
)

var errInputClosed = errors.New("input closed")

// Keyboard reads stdin on one goroutine and hands bytes to whichever prompt
// or key wait is active, so a pending read never steals input from the
// next screen.
type Keyboard struct {
	fd    int
	bytes chan byte
	done  chan struct{}
}

// NewKeyboard starts reading r. fd is the terminal used for raw mode; pass
// -1 when r is not a terminal.
func NewKeyboard(r io.Reader, fd int) *Keyboard {
	k := &Keyboard{
		fd:    fd,
		bytes: make(chan byte, 256),
		done:  make(chan struct{}),
	}
	go k.pump(r)
	return k
}

// NewStdinKeyboard reads the process's standard input.
func NewStdinKeyboard() *Keyboard {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return NewKeyboard(os.Stdin, fd)
}

func (k *Keyboard) pump(r io.Reader) {
	defer close(k.done)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			k.bytes <- b
		}
		if err != nil {
			return
		}
	}
}

// next returns the next byte, waiting at most wait (forever when wait <= 0).
func (k *Keyboard) next(ctx context.Context, wait time.Duration) (byte, bool, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case b := <-k.bytes:
		return b, true, nil
	default:
	}

	select {
	case b := <-k.bytes:
		return b, true, nil
	case <-timeout:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-k.done:
		// Drain whatever arrived before EOF.
		select {
		case b := <-k.bytes:
			return b, true, nil
		default:
		}
		return 0, false, errInputClosed
	}
}

// ReadLine reads one line in cooked mode. The terminal echoes input.
func (k *Keyboard) ReadLine(ctx context.Context) (string, error) {
	var sb strings.Builder
	for {
		b, _, err := k.next(ctx, 0)
		if err != nil {
			if errors.Is(err, errInputClosed) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		switch b {
		case '\n':
			return strings.TrimRight(sb.String(), "\r"), nil
		default:
			sb.WriteByte(b)
		}
	}
}

// MakeRaw switches the terminal to raw mode and returns the restore func.
// It is a no-op when stdin is not a terminal.
func (k *Keyboard) MakeRaw() func() {
	if k.fd < 0 {
		return func() {}
	}
	state, err := term.MakeRaw(k.fd)
	if err != nil {
		return func() {}
	}
	return func() { _ = term.Restore(k.fd, state) }
}

// WaitKey returns the first key for which accept returns true. It checks ctx
// at least every keyPollInterval and returns KeyNone with ctx's error when
// ctx ends first. The terminal should be in raw mode.
func (k *Keyboard) WaitKey(ctx context.Context, accept func(Key) bool) (Key, error) {
	for {
		if err := ctx.Err(); err != nil {
			return KeyNone, err
		}
		b, ok, err := k.next(ctx, keyPollInterval)
		if err != nil {
			return KeyNone, err
		}
		if !ok {
			continue
		}

		seq := []byte{b}
		if b == 0x1b {
			seq = k.readEscape(ctx, seq)
		}
		if key := decodeKey(seq); accept(key) {
			return key, nil
		}
	}
}

// readEscape collects the remainder of an escape sequence.
func (k *Keyboard) readEscape(ctx context.Context, seq []byte) []byte {
	for len(seq) < 8 {
		b, ok, err := k.next(ctx, escapeTimeout)
		if err != nil || !ok {
			return seq
		}
		seq = append(seq, b)
		// CSI and SS3 sequences end in a letter or '~'.
		if len(seq) > 2 && (b == '~' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')) {
			return seq
		}
	}
	return seq
}

// decodeKey maps raw terminal input to a Key.
func decodeKey(seq []byte) Key {
	if len(seq) == 0 {
		return KeyNone
	}
	if len(seq) == 1 {
		switch seq[0] {
		case 0x7f, 0x08:
			return KeyBackspace
		case '\r', '\n':
			return KeyEnter
		case 0x1b:
			return KeyEscape
		case 0x03:
			return KeyInterrupt
		}
		return KeyOther
	}

	switch string(seq) {
	case "\x1bOP", "\x1b[11~", "\x1b[[A", "\x1b[1P":
		return KeyF1
	}
	return KeyOther
}
