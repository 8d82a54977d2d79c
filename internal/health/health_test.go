package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/detector"
	"autopause/internal/device"
	"autopause/internal/inventory"
	"autopause/internal/notify"
	"autopause/internal/trigger"
)

type refusingSubscriber struct{}

func (refusingSubscriber) Subscribe(context.Context, notify.Query) (notify.Subscription, error) {
	return nil, notify.ErrNotAvailable
}

func pollingEngine(t *testing.T) *detector.Engine {
	t.Helper()
	scanner := inventory.NewScanner(inventory.ProviderFunc(func(context.Context, inventory.Query) ([]device.Record, error) {
		return nil, nil
	}), nil)
	return detector.NewEngine(scanner, refusingSubscriber{}, trigger.NewDebouncer(nil), detector.Options{
		PollInterval: 10 * time.Millisecond,
	})
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical Status
		optional Status
		want     Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, StatusHealthy},
		{"optional degraded", StatusHealthy, StatusDegraded, StatusDegraded},
		{"optional unhealthy", StatusHealthy, StatusUnhealthy, StatusDegraded},
		{"critical unhealthy", StatusUnhealthy, StatusHealthy, StatusUnhealthy},
		{"critical degraded", StatusDegraded, StatusHealthy, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterFunc("critical", true, func(context.Context) CheckResult { return CheckResult{Status: tt.critical} })
			c.RegisterFunc("optional", false, func(context.Context) CheckResult { return CheckResult{Status: tt.optional} })

			assert.Equal(t, StatusUnknown, c.OverallStatus())
			c.Check(context.Background())
			assert.Equal(t, tt.want, c.OverallStatus())
		})
	}
}

func TestCheck_RecoversPanicsAndTimeouts(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("panics", false, func(context.Context) CheckResult { panic("boom") })
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["panics"].Status)
	assert.Equal(t, "boom", results["panics"].Error)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, []string{"panics", "slow"}, c.Names())
}

func TestSessionCheck(t *testing.T) {
	engine := pollingEngine(t)
	check := SessionCheck(engine.Active)

	result := check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "idle", result.Message)

	s, err := engine.Start(context.Background(), detector.ListenAll(device.COMPorts))
	require.NoError(t, err)
	defer s.Stop(detector.ReturnToMainMenu)

	result = check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "polling", result.Details["mode"])
	assert.Equal(t, s.ID(), result.Details["session_id"])
}

func TestPingAndConnectionChecks(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, PingCheck(func(context.Context) error { return nil })(ctx).Status)
	failed := PingCheck(func(context.Context) error { return errors.New("database is locked") })(ctx)
	assert.Equal(t, StatusUnhealthy, failed.Status)
	assert.Equal(t, "database is locked", failed.Error)

	assert.Equal(t, StatusHealthy, ConnectionCheck(func() bool { return true })(ctx).Status)
	assert.Equal(t, StatusDegraded, ConnectionCheck(func() bool { return false })(ctx).Status)
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("journal", true, PingCheck(func(context.Context) error { return errors.New("closed") }))
	c.RegisterFunc("mqtt", false, ConnectionCheck(func() bool { return true }))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?full=true", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Len(t, body.Components, 2)

	rec = httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}
