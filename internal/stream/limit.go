package stream

import "sync"

// maxStreams caps concurrent streams across all clients.
const maxStreams = 64

// connLimiter bounds open streams per client IP and in total.
type connLimiter struct {
	perIP int

	mu    sync.Mutex
	open  map[string]int
	total int
}

func newConnLimiter(perIP int) *connLimiter {
	return &connLimiter{perIP: perIP, open: make(map[string]int)}
}

// acquire reserves a stream slot for ip. The returned release func frees it
// and is safe to call more than once.
func (l *connLimiter) acquire(ip string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.total >= maxStreams || l.open[ip] >= l.perIP {
		return nil, false
	}
	l.open[ip]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.free(ip) }) }, true
}

func (l *connLimiter) free(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total--
	if l.open[ip]--; l.open[ip] <= 0 {
		delete(l.open, ip)
	}
}

// active returns the open streams of ip.
func (l *connLimiter) active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ip]
}
