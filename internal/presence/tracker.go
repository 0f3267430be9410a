// Package presence tracks the best-effort online state of players.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
)

// Replicator shares presence changes with other instances
type Replicator interface {
	Replicate(ctx context.Context, rec domain.PresenceRecord) error
}

// Tracker holds the local presence view. Reads never block on replication.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]domain.PresenceRecord

	awayAfter    time.Duration
	offlineAfter time.Duration

	replicator Replicator
	logger     *slog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewTracker creates a new presence tracker. replicator may be nil.
func NewTracker(cfg *config.PresenceConfig, replicator Replicator, logger *slog.Logger) *Tracker {
	return &Tracker{
		records:      make(map[string]domain.PresenceRecord),
		awayAfter:    cfg.AwayAfter,
		offlineAfter: cfg.OfflineAfter,
		replicator:   replicator,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetStatus records an explicit status change.
func (t *Tracker) SetStatus(ctx context.Context, playerID string, status domain.PresenceStatus) error {
	if playerID == "" {
		return fmt.Errorf("player id is required: %w", domain.ErrInvalidRequest)
	}
	if !status.Valid() {
		return fmt.Errorf("unknown presence status %q: %w", status, domain.ErrInvalidRequest)
	}

	rec := domain.PresenceRecord{PlayerID: playerID, Status: status, LastSeen: t.now()}
	t.mu.Lock()
	t.records[playerID] = rec
	t.mu.Unlock()

	t.replicate(ctx, rec)
	return nil
}

// Touch marks a player online after a heartbeat.
func (t *Tracker) Touch(ctx context.Context, playerID string) error {
	return t.SetStatus(ctx, playerID, domain.PresenceOnline)
}

// Status returns the decayed status of a player. Unknown players are offline.
func (t *Tracker) Status(playerID string) domain.PresenceStatus {
	t.mu.RLock()
	rec, ok := t.records[playerID]
	t.mu.RUnlock()
	if !ok {
		return domain.PresenceOffline
	}
	return t.decay(rec)
}

// IsOnline reports whether a player currently reads as online.
func (t *Tracker) IsOnline(playerID string) bool {
	return t.Status(playerID) == domain.PresenceOnline
}

// Record returns the decayed record of a player.
func (t *Tracker) Record(playerID string) (domain.PresenceRecord, bool) {
	t.mu.RLock()
	rec, ok := t.records[playerID]
	t.mu.RUnlock()
	if !ok {
		return domain.PresenceRecord{PlayerID: playerID, Status: domain.PresenceOffline}, false
	}
	rec.Status = t.decay(rec)
	return rec, true
}

// Apply merges a record received from another instance. Older records are ignored.
func (t *Tracker) Apply(rec domain.PresenceRecord) {
	if rec.PlayerID == "" || !rec.Status.Valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.records[rec.PlayerID]; ok && !rec.LastSeen.After(cur.LastSeen) {
		return
	}
	t.records[rec.PlayerID] = rec
}

// Wait blocks until in-flight replications finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) decay(rec domain.PresenceRecord) domain.PresenceStatus {
	if rec.Status == domain.PresenceOffline {
		return domain.PresenceOffline
	}
	idle := t.now().Sub(rec.LastSeen)
	switch {
	case t.offlineAfter > 0 && idle >= t.offlineAfter:
		return domain.PresenceOffline
	case t.awayAfter > 0 && idle >= t.awayAfter:
		return domain.PresenceAway
	}
	return rec.Status
}

func (t *Tracker) replicate(ctx context.Context, rec domain.PresenceRecord) {
	if t.replicator == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.replicator.Replicate(context.WithoutCancel(ctx), rec); err != nil {
			t.logger.Warn("failed to replicate presence", "player_id", rec.PlayerID, "status", rec.Status, "error", err)
		}
	}()
}
