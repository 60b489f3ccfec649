package client

import (
	"io"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all downloads of one API client.
type RateLimiter struct {
	mu     sync.Mutex
	rate   int64   // bytes per second
	tokens float64 // current available tokens
	last   time.Time
}

// NewRateLimiter returns nil for a non-positive rate, meaning unlimited.
func NewRateLimiter(bytesPerSecond int64) *RateLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &RateLimiter{rate: bytesPerSecond, tokens: float64(bytesPerSecond), last: time.Now()}
}

// SetRate changes the limit of a running limiter.
func (l *RateLimiter) SetRate(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = bytesPerSecond
	if l.tokens > float64(bytesPerSecond) {
		l.tokens = float64(bytesPerSecond)
	}
	l.last = time.Now()
}

// Rate returns the current limit in bytes per second.
func (l *RateLimiter) Rate() int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Reader wraps r so reads are throttled. A nil limiter returns r unchanged.
func (l *RateLimiter) Reader(r io.Reader) io.Reader {
	if l == nil {
		return r
	}
	return &limitedReader{under: r, lim: l}
}

// take blocks until at least one byte is allowed and returns how many may be read.
func (l *RateLimiter) take(want int) int {
	for {
		l.mu.Lock()
		if l.rate <= 0 {
			l.mu.Unlock()
			return want
		}
		now := time.Now()
		if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
			l.tokens += elapsed * float64(l.rate)
			if maxTokens := float64(l.rate); l.tokens > maxTokens {
				l.tokens = maxTokens
			}
			l.last = now
		}
		allowed := int(l.tokens)
		rate := l.rate
		l.mu.Unlock()

		if allowed > 0 {
			if want > allowed {
				return allowed
			}
			return want
		}
		time.Sleep(time.Duration(float64(time.Second) / float64(rate)))
	}
}

func (l *RateLimiter) consume(n int) {
	l.mu.Lock()
	l.tokens -= float64(n)
	l.mu.Unlock()
}

type limitedReader struct {
	under io.Reader
	lim   *RateLimiter
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return lr.under.Read(p)
	}
	p = p[:lr.lim.take(len(p))]
	n, err := lr.under.Read(p)
	if n > 0 {
		lr.lim.consume(n)
	}
	return n, err
}
