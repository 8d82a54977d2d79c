//go:build windows

package inventory

import (
	"context"
	"fmt"

	"github.com/yusufpapurcu/wmi"

	"autopause/internal/device"
)

// win32PnPEntity holds the Win32_PnPEntity properties we select.
type win32PnPEntity struct {
	Caption  string
	DeviceID string
}

// WMIProvider queries Win32_PnPEntity through WMI.
type WMIProvider struct{}

// NewPlatformProvider returns the WMI provider.
func NewPlatformProvider() Provider {
	return WMIProvider{}
}

// Query runs q against root\cimv2.
func (WMIProvider) Query(ctx context.Context, q Query) ([]device.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dst []win32PnPEntity
	if err := wmi.Query(q.WQL(), &dst); err != nil {
		return nil, fmt.Errorf("query Win32_PnPEntity: %w", err)
	}

	records := make([]device.Record, 0, len(dst))
	for _, e := range dst {
		records = append(records, device.Record{ID: e.DeviceID, Name: e.Caption})
	}
	return records, nil
}
