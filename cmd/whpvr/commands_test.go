package main

import (
	"context"
	"testing"
	"time"

	"whpvr/pkg/config"
	"whpvr/pkg/health"
	"whpvr/pkg/prefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func runReporter(t *testing.T) *health.Reporter {
	r := health.NewReporter("127.0.0.1:0", zaptest.NewLogger(t))
	r.Update(true, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return r.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	return r
}

func TestStatusReportWhileServing(t *testing.T) {
	reporter := runReporter(t)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.HealthAddress = reporter.Addr().String()

	// The running service holds the preference database.
	held, err := prefs.OpenLevelDB(cfg.DataDir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer held.Close()

	out, err := statusReport(cfg, zaptest.NewLogger(t), false)
	require.NoError(t, err)
	assert.Contains(t, out, "SERVING")
	assert.Contains(t, out, "held by the running service")
}

func TestStatusReportOffline(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = config.MemoryDataDir
	cfg.HealthAddress = "127.0.0.1:1"

	out, err := statusReport(cfg, zaptest.NewLogger(t), true)
	require.NoError(t, err)
	assert.Contains(t, out, "unreachable")
	assert.Contains(t, out, "DISABLED")
	assert.Contains(t, out, "PREFERENCES")
	assert.Contains(t, out, prefs.PathServerName)
}

func TestStatusReportNothingReachable(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.HealthAddress = "127.0.0.1:1"

	held, err := prefs.OpenLevelDB(cfg.DataDir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer held.Close()

	_, err = statusReport(cfg, zaptest.NewLogger(t), false)
	assert.Error(t, err)
}
