//go:build windows

package trigger

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputKeyboard  = 1
	keyeventfKeyUp = 0x0002
)

// keybdInput mirrors KEYBDINPUT.
type keybdInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors INPUT with the keyboard member of the union. The trailing
// pad brings the union up to sizeof(MOUSEINPUT).
type input struct {
	typ uint32
	ki  keybdInput
	_   [8]byte
}

// SendInputInjector injects keys with user32!SendInput.
type SendInputInjector struct{}

// NewPlatformInjector returns the SendInput injector.
func NewPlatformInjector() Injector {
	return SendInputInjector{}
}

// Inject sends key-down then key-up for key in one SendInput call.
func (SendInputInjector) Inject(key Key) error {
	if err := procSendInput.Find(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}

	inputs := [2]input{
		{typ: inputKeyboard, ki: keybdInput{vk: uint16(key)}},
		{typ: inputKeyboard, ki: keybdInput{vk: uint16(key), flags: keyeventfKeyUp}},
	}

	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) != len(inputs) {
		return fmt.Errorf("SendInput injected %d of %d events: %w", n, len(inputs), err)
	}
	return nil
}
