package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the workflow policies that operators are allowed to tune.
//
// Set via env (or a wms.yaml next to the binary):
// - WMS_AUTO_RESOLVE_UNDER_QTY (default true)
// - WMS_DUPLICATE_SCAN_WINDOW (default 5s)
// - WMS_AUDIT_VALUE_LIMIT (default 512)
// - WMS_SCAN_GUARD=memory|redis (default memory)
// - WMS_EVENTS_TOPIC (empty disables receipt events)
// - WMS_EVENT_OUTBOX (default false; store events and relay them in the background)
// - WMS_OUTBOX_MAX_ATTEMPTS (default 10)
// - WMS_OUTBOX_BASE_BACKOFF (default 5s), WMS_OUTBOX_MAX_BACKOFF (default 10m)
type Settings struct {
	AutoResolveUnderQty bool
	DuplicateScanWindow time.Duration
	AuditValueLimit     int
	ScanGuard           string
	EventsTopic         string

	EventOutbox       bool
	OutboxMaxAttempts int
	OutboxBaseBackoff time.Duration
	OutboxMaxBackoff  time.Duration
}

const (
	ScanGuardMemory = "memory"
	ScanGuardRedis  = "redis"
)

func DefaultSettings() Settings {
	return Settings{
		AutoResolveUnderQty: true,
		DuplicateScanWindow: 5 * time.Second,
		AuditValueLimit:     512,
		ScanGuard:           ScanGuardMemory,
		OutboxMaxAttempts:   10,
		OutboxBaseBackoff:   5 * time.Second,
		OutboxMaxBackoff:    10 * time.Minute,
	}
}

// LoadSettings reads settings from the environment and an optional config file.
func LoadSettings() Settings {
	def := DefaultSettings()

	v := viper.New()
	v.SetConfigName("wms")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("WMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("auto_resolve_under_qty", def.AutoResolveUnderQty)
	v.SetDefault("duplicate_scan_window", def.DuplicateScanWindow)
	v.SetDefault("audit_value_limit", def.AuditValueLimit)
	v.SetDefault("scan_guard", def.ScanGuard)
	v.SetDefault("events_topic", "")
	v.SetDefault("event_outbox", false)
	v.SetDefault("outbox_max_attempts", def.OutboxMaxAttempts)
	v.SetDefault("outbox_base_backoff", def.OutboxBaseBackoff)
	v.SetDefault("outbox_max_backoff", def.OutboxMaxBackoff)

	// a missing file is fine, env + defaults still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			LogError(GetLogger(), "config", "LoadSettings", "ReadInConfig", nil, err)
		}
	}

	s := Settings{
		AutoResolveUnderQty: v.GetBool("auto_resolve_under_qty"),
		DuplicateScanWindow: v.GetDuration("duplicate_scan_window"),
		AuditValueLimit:     v.GetInt("audit_value_limit"),
		ScanGuard:           strings.ToLower(strings.TrimSpace(v.GetString("scan_guard"))),
		EventsTopic:         strings.TrimSpace(v.GetString("events_topic")),
		EventOutbox:         v.GetBool("event_outbox"),
		OutboxMaxAttempts:   v.GetInt("outbox_max_attempts"),
		OutboxBaseBackoff:   v.GetDuration("outbox_base_backoff"),
		OutboxMaxBackoff:    v.GetDuration("outbox_max_backoff"),
	}
	if s.DuplicateScanWindow <= 0 {
		s.DuplicateScanWindow = def.DuplicateScanWindow
	}
	if s.OutboxMaxAttempts <= 0 {
		s.OutboxMaxAttempts = def.OutboxMaxAttempts
	}
	if s.OutboxBaseBackoff <= 0 {
		s.OutboxBaseBackoff = def.OutboxBaseBackoff
	}
	if s.OutboxMaxBackoff < s.OutboxBaseBackoff {
		s.OutboxMaxBackoff = def.OutboxMaxBackoff
	}
	if s.ScanGuard != ScanGuardRedis {
		s.ScanGuard = ScanGuardMemory
	}
	return s
}
