package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	require.Equal(t, DefaultSettings(), LoadSettings())
}

func TestLoadSettings_Env(t *testing.T) {
	t.Setenv("WMS_AUTO_RESOLVE_UNDER_QTY", "false")
	t.Setenv("WMS_DUPLICATE_SCAN_WINDOW", "2s")
	t.Setenv("WMS_AUDIT_VALUE_LIMIT", "64")
	t.Setenv("WMS_SCAN_GUARD", " Redis ")
	t.Setenv("WMS_EVENTS_TOPIC", "receipt-events")
	t.Setenv("WMS_EVENT_OUTBOX", "true")
	t.Setenv("WMS_OUTBOX_MAX_ATTEMPTS", "3")

	s := LoadSettings()
	require.False(t, s.AutoResolveUnderQty)
	require.Equal(t, 2*time.Second, s.DuplicateScanWindow)
	require.Equal(t, 64, s.AuditValueLimit)
	require.Equal(t, ScanGuardRedis, s.ScanGuard)
	require.Equal(t, "receipt-events", s.EventsTopic)
	require.True(t, s.EventOutbox)
	require.Equal(t, 3, s.OutboxMaxAttempts)
	require.Equal(t, 5*time.Second, s.OutboxBaseBackoff)
}

func TestLoadSettings_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WMS_DUPLICATE_SCAN_WINDOW", "-1s")
	t.Setenv("WMS_SCAN_GUARD", "memcached")
	t.Setenv("WMS_OUTBOX_MAX_ATTEMPTS", "0")

	s := LoadSettings()
	require.Equal(t, 5*time.Second, s.DuplicateScanWindow)
	require.Equal(t, ScanGuardMemory, s.ScanGuard)
	require.Equal(t, 10, s.OutboxMaxAttempts)
}
