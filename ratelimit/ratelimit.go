package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config bounds submissions per sliding window
type Config struct {
	PerIP      int           // submissions per window from one remote IP, 0 disables
	PerAccount int           // submissions per window for one smart account, 0 disables
	Window     time.Duration // sliding window length
}

func DefaultConfig() Config {
	return Config{PerIP: 20, PerAccount: 10, Window: time.Second}
}

// Window is a sliding-window counter per key
type Window struct {
	max      int
	size     time.Duration
	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

func NewWindow(max int, size time.Duration) *Window {
	return &Window{
		max:      max,
		size:     size,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records a request for key unless the window is already full
func (w *Window) Allow(key string) bool {
	if w.max <= 0 {
		return true
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	valid := prune(w.requests[key], now.Add(-w.size))
	if len(valid) >= w.max {
		w.requests[key] = valid
		return false
	}
	w.requests[key] = append(valid, now)
	return true
}

// Count is the number of requests for key inside the current window
func (w *Window) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(prune(w.requests[key], w.now().Add(-w.size)))
}

func (w *Window) cleanup() {
	cutoff := w.now().Add(-w.size)

	w.mu.Lock()
	defer w.mu.Unlock()

	for key, reqs := range w.requests {
		valid := prune(reqs, cutoff)
		if len(valid) == 0 {
			delete(w.requests, key)
		} else {
			w.requests[key] = valid
		}
	}
}

func (w *Window) keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	valid := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// LimitError names the bound a submission ran into
type LimitError struct {
	Kind string
	Key  string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %s", e.Kind, e.Key)
}

// SubmissionLimiter guards transaction submission by remote IP and by account
type SubmissionLimiter struct {
	ip      *Window
	account *Window
}

func NewSubmissionLimiter(cfg Config) *SubmissionLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &SubmissionLimiter{
		ip:      NewWindow(cfg.PerIP, cfg.Window),
		account: NewWindow(cfg.PerAccount, cfg.Window),
	}
}

// AllowIP records one submission from a remote IP. The HTTP layer checks it
// before the request is decoded so a flooding client cannot drain an
// account's budget.
func (l *SubmissionLimiter) AllowIP(ip string) error {
	if !l.ip.Allow(ip) {
		return &LimitError{Kind: "ip", Key: ip}
	}
	return nil
}

// AllowAccount records one submission for a smart account
func (l *SubmissionLimiter) AllowAccount(account common.Address) error {
	if !l.account.Allow(account.Hex()) {
		return &LimitError{Kind: "account", Key: account.Hex()}
	}
	return nil
}

// Run drops expired entries every interval until ctx is done
func (l *SubmissionLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ip.cleanup()
			l.account.cleanup()
		}
	}
}
