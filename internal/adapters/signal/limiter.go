package signal

import (
	"sync"
	"time"

	"github.com/devaladey/yct-soup/internal/domain"
)

// JoinLimiter caps join attempts per peer over a sliding window, so a
// misbehaving client cannot churn router creation.
type JoinLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func NewJoinLimiter(limit int, interval time.Duration) *JoinLimiter {
	return &JoinLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *JoinLimiter) Allow(peerID domain.PeerID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[peerID]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[peerID] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[peerID] = fresh
	return true
}
