package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// submitLimiter bounds submissions per caller and globally over a sliding
// one-minute window. A zero limit disables that dimension.
type submitLimiter struct {
	mu        sync.Mutex
	perCaller int
	globalMax int
	window    time.Duration
	callers   map[string][]int64
	global    []int64
}

func newSubmitLimiterFromEnv() *submitLimiter {
	perCaller := getenvInt("SIM_SUBMIT_RATE_LIMIT_PER_MIN", 600)
	global := getenvInt("SIM_SUBMIT_GLOBAL_RATE_LIMIT_PER_MIN", 3000)
	if perCaller < 0 {
		perCaller = 0
	}
	if global < 0 {
		global = 0
	}
	return &submitLimiter{
		perCaller: perCaller,
		globalMax: global,
		window:    time.Minute,
		callers:   map[string][]int64{},
		global:    make([]int64, 0, 256),
	}
}

func (l *submitLimiter) allow(caller string, now time.Time) bool {
	if l == nil || (l.perCaller == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if caller == "" {
		caller = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.callers[caller], cutoff)
	if l.perCaller > 0 && len(history) >= l.perCaller {
		l.callers[caller] = history
		return false
	}

	l.callers[caller] = append(history, ts)
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
