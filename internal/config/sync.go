package config

import "time"

// SyncConfig holds the message reconciliation tunables. The windows are
// empirically tuned heuristics, not derived constants, so they are kept
// configurable rather than hardcoded.
type SyncConfig struct {
	// PushDedupWindow is the timestamp proximity within which a push
	// insert with identical content is treated as an echo of a message
	// this client already holds.
	PushDedupWindow string `yaml:"push_dedup_window"`

	// SpliceWindow is the timestamp proximity used to match a
	// locally-held message against its freshly-fetched counterpart
	// when re-splicing local state after a history fetch.
	SpliceWindow string `yaml:"splice_window"`

	// LegacyProximityWindow bounds the best-effort inclusion of
	// untagged historical rows: an untagged row is attributed to this
	// agent only if it falls within this window of a row known to be
	// from this agent.
	LegacyProximityWindow string `yaml:"legacy_proximity_window"`

	// IndicatorHideDelay is how long the "agent is working" indicator
	// lingers after completion, to avoid UI flicker.
	IndicatorHideDelay string `yaml:"indicator_hide_delay"`
}

// DefaultSyncConfig returns the tuned default windows.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PushDedupWindow:       "1s",
		SpliceWindow:          "60s",
		LegacyProximityWindow: "15m",
		IndicatorHideDelay:    "300ms",
	}
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetPushDedupWindow returns the push dedup window as a duration.
func (c *SyncConfig) GetPushDedupWindow() time.Duration {
	return parseDurationOr(c.PushDedupWindow, time.Second)
}

// GetSpliceWindow returns the splice window as a duration.
func (c *SyncConfig) GetSpliceWindow() time.Duration {
	return parseDurationOr(c.SpliceWindow, 60*time.Second)
}

// GetLegacyProximityWindow returns the legacy proximity window as a duration.
func (c *SyncConfig) GetLegacyProximityWindow() time.Duration {
	return parseDurationOr(c.LegacyProximityWindow, 15*time.Minute)
}

// GetIndicatorHideDelay returns the indicator hide delay as a duration.
func (c *SyncConfig) GetIndicatorHideDelay() time.Duration {
	return parseDurationOr(c.IndicatorHideDelay, 300*time.Millisecond)
}
