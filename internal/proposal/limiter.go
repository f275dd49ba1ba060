package proposal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const minIdleTTL = 10 * time.Minute

// ProjectLimiter throttles proposal generation per project.
type ProjectLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	limiters  map[string]*projectBucket
	now       func() time.Time
}

type projectBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewProjectLimiter allows perMinute proposals per project with the given
// burst. perMinute <= 0 disables limiting.
func NewProjectLimiter(perMinute, burst int) *ProjectLimiter {
	limit := rate.Inf
	if burst <= 0 {
		burst = 1
	}
	idleTTL := minIdleTTL
	if perMinute > 0 {
		interval := time.Minute / time.Duration(perMinute)
		limit = rate.Every(interval)
		// A bucket untouched for burst intervals is full again, so dropping
		// it loses nothing.
		if refill := interval * time.Duration(burst); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &ProjectLimiter{
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
		limiters: make(map[string]*projectBucket),
		now:      time.Now,
	}
}

func (l *ProjectLimiter) Allow(projectID string) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	bucket, ok := l.limiters[projectID]
	if !ok {
		bucket = &projectBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[projectID] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()
	return bucket.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than idleTTL, at most once per
// idleTTL. Callers hold l.mu.
func (l *ProjectLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for id, bucket := range l.limiters {
		if now.Sub(bucket.lastSeen) > l.idleTTL {
			delete(l.limiters, id)
		}
	}
}

func (l *ProjectLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
