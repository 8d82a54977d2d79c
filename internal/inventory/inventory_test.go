package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/device"
)

var usbFixture = []device.Record{
	{ID: `USB\VID_046D&PID_C08B\1`, Name: "G502 HERO Gaming Mouse"},
	{ID: `HID\VID_046D&PID_C08B&MI_01\2`, Name: "G502 HERO Gaming Mouse"},
	{ID: `USB\ROOT_HUB30\4&1`, Name: "USB Root Hub (USB 3.0)"},
	{ID: `BTHENUM\{0000111e}_USB`, Name: "Headset Hands-Free"},
	{ID: `SWD\USB\1`, Name: "Arctis Nova"},
	{ID: `USB\VID_1532&PID_0084\3`, Name: "Razer Keyboard"},
	{ID: `PCI\VEN_8086`, Name: "Some PCI Device"},
}

func fixedProvider(records []device.Record) (Provider, *[]Query) {
	var seen []Query
	return ProviderFunc(func(ctx context.Context, q Query) ([]device.Record, error) {
		seen = append(seen, q)
		return records, nil
	}), &seen
}

func TestScan_USBCategory(t *testing.T) {
	p, seen := fixedProvider(usbFixture)
	s := NewScanner(p, nil)

	names := s.Scan(context.Background(), device.USBPeripherals)
	assert.Equal(t, []string{"G502 HERO Gaming Mouse", "Razer Keyboard"}, names)
	require.Len(t, *seen, 1)
	assert.Empty(t, (*seen)[0].ClassGUID)
}

func TestScan_ClassCategoryUsesGUID(t *testing.T) {
	p, seen := fixedProvider([]device.Record{
		{ID: `DISPLAY\DELA0F5\1`, Name: "Dell U2720Q"},
		{ID: `DISPLAY\GSM5B09\1`, Name: "LG ULTRAGEAR"},
	})
	s := NewScanner(p, nil)

	names := s.Scan(context.Background(), device.Monitors)
	assert.Equal(t, []string{"Dell U2720Q", "LG ULTRAGEAR"}, names)
	assert.Equal(t, device.MonitorClassGUID, (*seen)[0].ClassGUID)
}

func TestScan_EmptyAndFailingProvider(t *testing.T) {
	empty, _ := fixedProvider(nil)
	names := NewScanner(empty, nil).Scan(context.Background(), device.COMPorts)
	require.NotNil(t, names)
	assert.Empty(t, names)

	failing := ProviderFunc(func(context.Context, Query) ([]device.Record, error) {
		return nil, errors.New("access denied")
	})
	names = NewScanner(failing, nil).Scan(context.Background(), device.COMPorts)
	require.NotNil(t, names)
	assert.Empty(t, names)

	assert.Empty(t, NewScanner(failing, nil).Snapshot(context.Background(), device.COMPorts))
}

func TestSnapshot_MatchesScanFilter(t *testing.T) {
	p, _ := fixedProvider(usbFixture)
	s := NewScanner(p, nil)

	snap := s.Snapshot(context.Background(), device.USBPeripherals)
	assert.Equal(t, device.Snapshot{
		`USB\VID_046D&PID_C08B\1`:       "G502 HERO Gaming Mouse",
		`HID\VID_046D&PID_C08B&MI_01\2`: "G502 HERO Gaming Mouse",
		`USB\VID_1532&PID_0084\3`:       "Razer Keyboard",
	}, snap)

	names := map[string]bool{}
	for _, n := range snap {
		names[n] = true
	}
	for _, n := range s.Scan(context.Background(), device.USBPeripherals) {
		assert.True(t, names[n], "scan name %q missing from snapshot", n)
	}
}

func TestSnapshotAll_KeepsGenericNames(t *testing.T) {
	p, seen := fixedProvider(usbFixture)
	snap := NewScanner(p, nil).SnapshotAll(context.Background())

	assert.Len(t, snap, len(usbFixture))
	assert.Equal(t, "USB Root Hub (USB 3.0)", snap[`USB\ROOT_HUB30\4&1`])
	assert.Equal(t, Query{}, (*seen)[0])
}

func TestQueryWQL(t *testing.T) {
	assert.Equal(t,
		"SELECT Caption, DeviceID FROM Win32_PnPEntity WHERE ConfigManagerErrorCode = 0",
		QueryFor(device.USBPeripherals).WQL())
	assert.Equal(t,
		"SELECT Caption, DeviceID FROM Win32_PnPEntity WHERE ConfigManagerErrorCode = 0 AND ClassGuid = '{4d36e978-e325-11ce-bfc1-08002be10318}'",
		QueryFor(device.COMPorts).WQL())
}
