package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/detector"
	"autopause/internal/device"
	"autopause/internal/trigger"
)

func TestOnTrigger_CountsByResult(t *testing.T) {
	m := New()
	now := time.Unix(1_700_000_000, 0)

	m.OnTrigger(trigger.Event{Device: "a", Time: now})
	m.OnTrigger(trigger.Event{Device: "a", Time: now, Debounced: true})
	m.OnTrigger(trigger.Event{Device: "a", Time: now, Debounced: true})
	m.OnTrigger(trigger.Event{Device: "b", Time: now, Err: errors.New("denied")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggersTotal.WithLabelValues(ResultFired)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TriggersTotal.WithLabelValues(ResultDebounced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggersTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.LastTriggerTimestamp))
}

func TestObserver_SessionLifecycle(t *testing.T) {
	m := New()
	target := detector.ListenAll(device.Monitors)

	m.ModeFallback(detector.SmartDisplayActive, detector.EventActive, errors.New("denied"))
	m.SessionStarted(target, detector.EventActive)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))

	m.SessionStopped(target, detector.EventActive, 3)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DroppedEventsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModeFallbacksTotal.WithLabelValues("smart-display", "event")))
}

func TestServer_ExposesMetrics(t *testing.T) {
	m := New()
	m.OnTrigger(trigger.Event{Device: "a", Time: time.Now()})

	srv, err := Listen("127.0.0.1:0", m, nil)
	require.NoError(t, err)
	srv.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, `autopause_triggers_total{result="fired"} 1`), body)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
