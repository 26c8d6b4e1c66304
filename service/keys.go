package service

import "time"

// Demo access keys and how long each stays valid after process start. The
// table is the source of truth for key validity; per-user grant documents only
// remember which key a user activated.
var demoKeyTTL = map[string]time.Duration{
	"DEMO-KEY-1D":  24 * time.Hour,
	"DEMO-KEY-7D":  7 * 24 * time.Hour,
	"DEMO-KEY-30D": 30 * 24 * time.Hour,
}

// LoadDemoKeys materializes the static key table into absolute expiry
// instants. Called once at startup; not editable at runtime.
func LoadDemoKeys() map[string]time.Time {
	now := time.Now().UTC()
	keys := make(map[string]time.Time, len(demoKeyTTL))
	for k, ttl := range demoKeyTTL {
		keys[k] = now.Add(ttl)
	}
	return keys
}
