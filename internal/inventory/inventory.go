// Package inventory queries the set of currently connected devices and turns
// it into menu lists and identifier-keyed snapshots.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"autopause/internal/device"
	"autopause/internal/logging"
)

// ErrNotAvailable is returned by providers on platforms without a device
// inventory.
var ErrNotAvailable = errors.New("inventory: device inventory not available on this platform")

// Query selects which devices the provider returns. Only devices whose
// configuration reports no error are ever returned.
type Query struct {
	// ClassGUID narrows the result to one device class. Empty means all
	// classes.
	ClassGUID string
}

// QueryFor returns the provider query for a category. USB peripherals are
// unscoped; their positive rule is applied client side by the identity filter.
func QueryFor(c device.Category) Query {
	return Query{ClassGUID: c.ClassGUID()}
}

// WQL renders the query against Win32_PnPEntity.
func (q Query) WQL() string {
	wql := "SELECT Caption, DeviceID FROM Win32_PnPEntity WHERE ConfigManagerErrorCode = 0"
	if q.ClassGUID != "" {
		wql += fmt.Sprintf(" AND ClassGuid = '%s'", q.ClassGUID)
	}
	return wql
}

// Provider returns a snapshot of connected devices. It must tolerate being
// called at least once per second indefinitely.
type Provider interface {
	Query(ctx context.Context, q Query) ([]device.Record, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, q Query) ([]device.Record, error)

// Query calls f(ctx, q).
func (f ProviderFunc) Query(ctx context.Context, q Query) ([]device.Record, error) {
	return f(ctx, q)
}

// Scanner enumerates devices through a Provider and applies the identity
// filter. Provider failures never surface: they degrade to empty results.
type Scanner struct {
	provider Provider
	logger   *slog.Logger
}

// NewScanner creates a Scanner. A nil logger discards.
func NewScanner(p Provider, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{provider: p, logger: logger}
}

// Scan returns the sorted, de-duplicated display names of relevant devices
// in category c. The result is empty, never nil, when nothing is connected or
// the inventory fails.
func (s *Scanner) Scan(ctx context.Context, c device.Category) []string {
	return device.UniqueNames(s.query(ctx, QueryFor(c)), c)
}

// Snapshot captures relevant devices of category c keyed by identifier,
// filtered exactly like Scan.
func (s *Scanner) Snapshot(ctx context.Context, c device.Category) device.Snapshot {
	return device.NewSnapshot(s.query(ctx, QueryFor(c)), c)
}

// SnapshotAll captures every connected device without category or denylist
// filtering. Identifier-matched sessions use it because a learned device may
// carry a generic name.
func (s *Scanner) SnapshotAll(ctx context.Context) device.Snapshot {
	records := s.query(ctx, Query{})
	snap := make(device.Snapshot, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			snap.Add(rec)
		}
	}
	return snap
}

func (s *Scanner) query(ctx context.Context, q Query) []device.Record {
	records, err := s.provider.Query(ctx, q)
	if err != nil {
		s.logger.Debug("inventory query failed", "class_guid", q.ClassGUID, "error", err)
		return nil
	}
	return records
}
