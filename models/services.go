// anonfeedback/models/services.go
package models

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Collaborator Interfaces ---

// ErrThreadNotFound is returned by Platform.ResolveThreadOwner when the thread
// no longer exists or its owner cannot be determined.
var ErrThreadNotFound = errors.New("thread not found")

// Platform is the chat platform as seen by the engine. Every call may block
// for an unbounded time and must never be made while holding a store lock.
type Platform interface {
	RenderMessage(ctx context.Context, threadID int64, msg Message) (int64, error)
	DeleteMessage(ctx context.Context, threadID, messageID int64) error
	NotifyUser(ctx context.Context, userID int64, text string) error
	ResolveThreadOwner(ctx context.Context, threadID int64) (int64, error)
}

// StorageService persists uploaded attachments and returns a public reference.
type StorageService interface {
	SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, path string) error
}

// --- Stateful Services ---

// RateLimiter throttles command bursts per acting user. It is independent of
// the rolling per-thread feedback window, which is computed from the store.
type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[int64]*rate.Limiter
	LastSeen map[int64]time.Time
	every    time.Duration
	burst    int
	expire   time.Duration
}

// NewRateLimiter creates a rate limiter and starts its pruning loop.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[int64]*rate.Limiter),
		LastSeen: make(map[int64]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
	}
	if prune > 0 {
		go rl.cleanup(prune)
	}
	return rl
}

// GetLimiter retrieves or creates the limiter for a user.
func (rl *RateLimiter) GetLimiter(userID int64) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[userID] = limiter
	}
	rl.LastSeen[userID] = time.Now()
	return limiter
}

// Allow is shorthand for GetLimiter(userID).Allow().
func (rl *RateLimiter) Allow(userID int64) bool {
	return rl.GetLimiter(userID).Allow()
}

// Prune drops limiters not used since cutoff and returns how many were removed.
func (rl *RateLimiter) Prune(cutoff time.Time) int {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	removed := 0
	for id, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, id)
			delete(rl.LastSeen, id)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	for range time.Tick(every) {
		rl.Prune(time.Now().Add(-rl.expire))
	}
}
