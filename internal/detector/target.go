package detector

import (
	"errors"
	"fmt"
	"strings"

	"autopause/internal/device"
	"autopause/internal/notify"
)

// SignalLostName is the trigger name for smart display disconnections, which
// carry no device identity.
const SignalLostName = "MONITOR (Signal Lost)"

// savedSuffix marks triggers of identifier-matched (learned) devices.
const savedSuffix = " (My Device)"

// ErrInvalidTarget is returned by Engine.Start for malformed targets.
var ErrInvalidTarget = errors.New("detector: invalid target")

// Strategy is the single matching policy active for a session.
type Strategy int

const (
	// MatchIdentifier matches the exact hardware identifier, case-insensitive.
	MatchIdentifier Strategy = iota
	// MatchUSBHID matches any identifier passing the USB/HID predicate.
	MatchUSBHID
	// MatchName matches the trimmed display name, case-insensitive.
	MatchName
	// MatchAll matches every relevant removal in the category.
	MatchAll
)

func (s Strategy) String() string {
	switch s {
	case MatchIdentifier:
		return "identifier"
	case MatchUSBHID:
		return "usb-hid"
	case MatchName:
		return "name"
	case MatchAll:
		return "all"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Target holds the parameters of one listening session.
type Target struct {
	Title string
	// Category decides which inventory query the poller runs.
	Category        device.Category
	ClassGUID       string
	FilterValue     string
	UnifiedUSB      bool
	TrySmartDisplay bool
	MatchByID       bool
}

// ListenAll targets every relevant device of a category. Monitors try smart
// display notifications first.
func ListenAll(c device.Category) Target {
	return Target{
		Title:           "ALL " + c.String(),
		Category:        c,
		ClassGUID:       c.ClassGUID(),
		UnifiedUSB:      c.UnifiedUSB(),
		TrySmartDisplay: c == device.Monitors,
	}
}

// ByName targets a detected device by display name.
func ByName(c device.Category, name string) Target {
	return Target{
		Title:       name,
		Category:    c,
		ClassGUID:   c.ClassGUID(),
		FilterValue: name,
	}
}

// ByID targets a learned device by its hardware identifier.
func ByID(c device.Category, title, hardwareID string) Target {
	return Target{
		Title:       title,
		Category:    c,
		ClassGUID:   c.ClassGUID(),
		FilterValue: hardwareID,
		MatchByID:   true,
	}
}

// Validate checks the target is usable.
func (t Target) Validate() error {
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %d", ErrInvalidTarget, int(t.Category))
	}
	if t.MatchByID && strings.TrimSpace(t.FilterValue) == "" {
		return fmt.Errorf("%w: identifier match without an identifier", ErrInvalidTarget)
	}
	return nil
}

// Strategy returns the active matching policy. The flags are checked in
// precedence order so exactly one policy applies.
func (t Target) Strategy() Strategy {
	switch {
	case t.MatchByID:
		return MatchIdentifier
	case t.UnifiedUSB:
		return MatchUSBHID
	case t.FilterValue != "":
		return MatchName
	default:
		return MatchAll
	}
}

// DeletionQuery returns the removal subscription for the target. The class
// clause is added only for class-scoped, non-identifier sessions.
func (t Target) DeletionQuery() notify.Query {
	if t.UnifiedUSB || t.MatchByID {
		return notify.DeletionQuery("")
	}
	return notify.DeletionQuery(t.ClassGUID)
}

// Match applies the strategy to a removed device and returns the name to
// report. Identifier sessions accept any name; all others first require the
// record to be relevant to the category, the same rule the poller's snapshot
// applies. The same policy serves event and poll removals.
func (t Target) Match(rec device.Record) (string, bool) {
	strategy := t.Strategy()
	if strategy != MatchIdentifier && !device.IsRelevant(rec, t.Category) {
		return "", false
	}

	switch strategy {
	case MatchIdentifier:
		if strings.EqualFold(rec.ID, t.FilterValue) {
			return rec.Name + savedSuffix, true
		}
	case MatchUSBHID:
		if device.MatchesUSBHID(rec.ID) {
			return rec.Name, true
		}
	case MatchName:
		if strings.EqualFold(strings.TrimSpace(rec.Name), strings.TrimSpace(t.FilterValue)) {
			return rec.Name, true
		}
	case MatchAll:
		return rec.Name, true
	}
	return "", false
}
