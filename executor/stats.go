package executor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Wait-time telemetry: opt-in accounting of how long tasks sat ready
// but unscheduled, keyed by spawn site. A worker timestamps the moment
// it starts parking while hunting for work; the duration is charged to
// whichever task ends the idle episode and folded into the global map
// when that task finishes.

var trackWaitStats atomic.Bool

var waitStats = struct {
	mu       sync.Mutex
	byOrigin map[string]time.Duration
}{byOrigin: make(map[string]time.Duration)}

// TrackTaskWaitStatistics toggles accumulation. Disabling stops further
// accumulation without resetting history.
func TrackTaskWaitStatistics(track bool) {
	trackWaitStats.Store(track)
}

// WaitStat is one spawn site's accumulated ready-but-unscheduled time.
type WaitStat struct {
	Origin  string
	Blocked time.Duration
}

// GetTaskWaitStatistics returns a snapshot sorted by origin.
func GetTaskWaitStatistics() []WaitStat {
	waitStats.mu.Lock()
	out := make([]WaitStat, 0, len(waitStats.byOrigin))
	for origin, d := range waitStats.byOrigin {
		out = append(out, WaitStat{Origin: origin, Blocked: d})
	}
	waitStats.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// ClearTaskWaitStatistics resets accumulated history.
func ClearTaskWaitStatistics() {
	waitStats.mu.Lock()
	clear(waitStats.byOrigin)
	waitStats.mu.Unlock()
}

func waitStatsEnabled() bool {
	return trackWaitStats.Load()
}

func recordBlocked(origin string, ns uint64) {
	waitStats.mu.Lock()
	waitStats.byOrigin[origin] += time.Duration(ns)
	waitStats.mu.Unlock()
}
