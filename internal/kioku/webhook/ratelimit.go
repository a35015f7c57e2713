package webhook

import (
	"sync"
	"time"
)

// tableQuota caps deliveries per source table within a fixed window. A
// table's window opens on its first delivery; tables never share a budget.
type tableQuota struct {
	mu      sync.Mutex
	perWin  int
	window  time.Duration
	clock   func() time.Time
	windows map[string]quotaWindow
}

type quotaWindow struct {
	used   int
	closes time.Time
}

func newTableQuota(perWindow int, window time.Duration) *tableQuota {
	return &tableQuota{
		perWin:  perWindow,
		window:  window,
		clock:   time.Now,
		windows: make(map[string]quotaWindow),
	}
}

// take charges one delivery to table. When the budget is spent it returns
// false and how long until the table's window closes.
func (q *tableQuota) take(table string) (bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	w, ok := q.windows[table]
	if !ok || !now.Before(w.closes) {
		q.windows[table] = quotaWindow{used: 1, closes: now.Add(q.window)}
		return true, 0
	}
	if w.used >= q.perWin {
		return false, w.closes.Sub(now)
	}
	w.used++
	q.windows[table] = w
	return true, 0
}

// retryAfterSeconds renders wait for a Retry-After header, never below one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	return max(secs, 1)
}
