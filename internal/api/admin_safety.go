package api

import (
	"sync"
	"time"
)

// adminSafety rate-limits manual cache eviction so a misfiring automation
// cannot thrash the store.
type adminSafety struct {
	rateLimitPerMin int
	mu              sync.Mutex
	recentEvictUnix []int64
}

func newAdminSafetyFromEnv() *adminSafety {
	return &adminSafety{
		rateLimitPerMin: getenvInt("SIM_ADMIN_EVICT_RATE_LIMIT_PER_MIN", 6),
	}
}

func (a *adminSafety) allowEvict(now time.Time) bool {
	if a.rateLimitPerMin <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := now.Add(-time.Minute).Unix()
	kept := a.recentEvictUnix[:0]
	for _, ts := range a.recentEvictUnix {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	a.recentEvictUnix = kept
	if len(a.recentEvictUnix) >= a.rateLimitPerMin {
		return false
	}
	a.recentEvictUnix = append(a.recentEvictUnix, now.Unix())
	return true
}
