//go:build !windows

package inventory

import (
	"context"

	"autopause/internal/device"
)

type unavailableProvider struct{}

// NewPlatformProvider returns a provider that always fails with
// ErrNotAvailable; scans on this platform are empty.
func NewPlatformProvider() Provider {
	return unavailableProvider{}
}

func (unavailableProvider) Query(context.Context, Query) ([]device.Record, error) {
	return nil, ErrNotAvailable
}
