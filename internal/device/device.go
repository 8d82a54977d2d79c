// Package device holds the device data model and the identity filter shared
// by scanning, poll diffing and event matching.
//
// Everything in this package is pure: no I/O, no globals that change after
// init. The denylist and category tables are static data so the filter can be
// tested without a device inventory.
package device

import (
	"fmt"
	"sort"
	"strings"
)

// Record is one connected device instance as reported by the inventory.
type Record struct {
	// ID is the platform-assigned instance identifier (PNPDeviceID on Windows).
	ID string `json:"id"`
	// Name is the display name (Caption). Not guaranteed unique.
	Name string `json:"name"`
}

// Category selects which class of hardware a scan or session covers.
type Category int

const (
	// Monitors are display devices (HDMI / DisplayPort).
	Monitors Category = iota
	// USBPeripherals are USB and HID devices matched by the unified predicate.
	USBPeripherals
	// COMPorts are serial ports.
	COMPorts
)

// Class GUIDs used by the Windows device manager.
const (
	MonitorClassGUID = "{4d36e96e-e325-11ce-bfc1-08002be10318}"
	PortsClassGUID   = "{4d36e978-e325-11ce-bfc1-08002be10318}"
)

// categoryInfo is a row in the static category table.
type categoryInfo struct {
	title      string
	slug       string
	classGUID  string
	unifiedUSB bool
}

var categories = map[Category]categoryInfo{
	Monitors:       {title: "Monitors", slug: "monitors", classGUID: MonitorClassGUID},
	USBPeripherals: {title: "USB Peripherals", slug: "usb", unifiedUSB: true},
	COMPorts:       {title: "COM Ports", slug: "com", classGUID: PortsClassGUID},
}

// Categories returns all categories in menu order.
func Categories() []Category {
	return []Category{Monitors, USBPeripherals, COMPorts}
}

// String returns the human-readable category title.
func (c Category) String() string {
	if info, ok := categories[c]; ok {
		return info.title
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Slug returns the short command-line name of the category.
func (c Category) Slug() string {
	return categories[c].slug
}

// ClassGUID returns the device class identifier, or "" when the category is
// selected by the unified USB/HID predicate instead.
func (c Category) ClassGUID() string {
	return categories[c].classGUID
}

// UnifiedUSB reports whether the category is selected by the USB/HID predicate.
func (c Category) UnifiedUSB() bool {
	return categories[c].unifiedUSB
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// ParseCategory resolves a slug ("monitors", "usb", "com") or title.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories() {
		info := categories[c]
		if strings.EqualFold(s, info.slug) || strings.EqualFold(s, info.title) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category: %q", s)
}

// junkKeywords marks system-internal entries that are never actionable.
// Matching is a case-insensitive substring test against the display name.
var junkKeywords = []string{
	"Root Hub", "Concentrator", "Host Controller", "PCI", "eXtensible",
	"Policy Controller", "Virtual", "System", "Processor", "Motherboard", "ACPI",
	"Print", "Volume", "Manager", "Bus", "Direct Memory Access", "Controller",
	"VHF", "HID Structures",
	"USB Input Device", "USB Composite Device",
	"HID-compliant system controller", "HID-compliant vendor-defined device",
	"HID-compliant device", "HID-compliant mouse", "HID Keyboard Device",
	"Service", "Gateway", "Protocol", "Transport", "Enumerator",
	"Avrcp", "A2DP", "Hands-Free", "HFP", "SNK", "Network", "SMS/MMS",
}

// lowered copy of junkKeywords, built once.
var junkLower = func() []string {
	out := make([]string, len(junkKeywords))
	for i, k := range junkKeywords {
		out[i] = strings.ToLower(k)
	}
	return out
}()

// JunkKeywords returns a copy of the denylist.
func JunkKeywords() []string {
	out := make([]string, len(junkKeywords))
	copy(out, junkKeywords)
	return out
}

// IsJunk reports whether name contains any denylist keyword.
func IsJunk(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range junkLower {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// MatchesUSBHID is the unified USB/HID inclusion rule: the identifier must
// mention USB or HID and must not be Bluetooth- or software-enumerated.
func MatchesUSBHID(id string) bool {
	upper := strings.ToUpper(id)
	if !strings.Contains(upper, "USB") && !strings.Contains(upper, "HID") {
		return false
	}
	if strings.HasPrefix(upper, "BTH") || strings.HasPrefix(upper, "SW") {
		return false
	}
	return true
}

// IsRelevant applies the category rule and then the denylist.
//
// Monitors and COM ports are already narrowed by class GUID at query time, so
// their positive rule is "present in the result". USB peripherals need the
// identifier predicate because their query is unscoped.
func IsRelevant(rec Record, c Category) bool {
	if rec.ID == "" || rec.Name == "" {
		return false
	}
	if c.UnifiedUSB() && !MatchesUSBHID(rec.ID) {
		return false
	}
	return !IsJunk(rec.Name)
}

// Snapshot maps instance identifier to display name at one point in time.
// Keys are upper-cased: instance identifiers compare case-insensitively.
type Snapshot map[string]string

// Add stores rec under its upper-cased identifier.
func (s Snapshot) Add(rec Record) {
	s[strings.ToUpper(rec.ID)] = rec.Name
}

// NewSnapshot builds a snapshot from records, keeping only relevant ones.
func NewSnapshot(records []Record, c Category) Snapshot {
	snap := make(Snapshot, len(records))
	for _, rec := range records {
		if IsRelevant(rec, c) {
			snap.Add(rec)
		}
	}
	return snap
}

// Diff returns the records whose identifier is in previous but not in
// current, sorted by identifier. Additions and renames are ignored.
func Diff(previous, current Snapshot) []Record {
	var removed []Record
	for id, name := range previous {
		if _, ok := current[id]; !ok {
			removed = append(removed, Record{ID: id, Name: name})
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// UniqueNames returns the distinct names of relevant records, ascending.
// The result is never nil.
func UniqueNames(records []Record, c Category) []string {
	seen := make(map[string]struct{}, len(records))
	names := make([]string, 0, len(records))
	for _, rec := range records {
		if !IsRelevant(rec, c) {
			continue
		}
		if _, dup := seen[rec.Name]; dup {
			continue
		}
		seen[rec.Name] = struct{}{}
		names = append(names, rec.Name)
	}
	sort.Strings(names)
	return names
}
