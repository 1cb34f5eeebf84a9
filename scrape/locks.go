package scrape

import "sync"

// siteLocks hands out per-site try-locks so at most one run per site is in
// flight. Manual triggers and cron fires contend on the same lock.
type siteLocks struct {
	mu      sync.Mutex
	running map[string]bool
}

func newSiteLocks() *siteLocks {
	return &siteLocks{running: make(map[string]bool)}
}

// tryAcquire marks site as running. Returns false when a run already holds it.
func (l *siteLocks) tryAcquire(site string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[site] {
		return false
	}
	l.running[site] = true
	return true
}

// release frees the site lock.
func (l *siteLocks) release(site string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, site)
}

// held reports whether a run currently holds the site lock.
func (l *siteLocks) held(site string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[site]
}
