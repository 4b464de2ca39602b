package app

import (
	"context"
	"errors"
	"log"
	"time"

	"quizroom-service/internal/domain"
)

// PresenceTracker maintains per-player liveness leases and derives the
// room-empty transition the reaper acts on. Liveness is lease-based: the
// transport renews a TTL-bound key while a connection is alive, and a lease
// that silently expires counts the player as offline with no explicit
// leave call. That is the whole disconnect story; there is no client
// heartbeat protocol on top.
type PresenceTracker struct {
	rooms    RoomStore
	realtime RealtimeStore
	leaseTTL time.Duration
	now      func() time.Time
}

func NewPresenceTracker(rooms RoomStore, realtime RealtimeStore, leaseTTL time.Duration) *PresenceTracker {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &PresenceTracker{
		rooms:    rooms,
		realtime: realtime,
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
}

// NewPresenceTrackerWithClock is test-only for deterministic timestamps.
func NewPresenceTrackerWithClock(rooms RoomStore, realtime RealtimeStore, leaseTTL time.Duration, now func() time.Time) *PresenceTracker {
	t := NewPresenceTracker(rooms, realtime, leaseTTL)
	t.now = now
	return t
}

// LeaseTTL is the interval within which Renew must be called again.
func (t *PresenceTracker) LeaseTTL() time.Duration {
	return t.leaseTTL
}

// Connected marks the player online. Any prior empty-room stamp is cleared
// the instant one player comes back.
func (t *PresenceTracker) Connected(ctx context.Context, roomID, playerID string) error {
	if err := t.realtime.TouchPresence(ctx, roomID, playerID, t.leaseTTL); err != nil {
		return err
	}
	if err := t.rooms.SetOnline(ctx, roomID, playerID, true); err != nil {
		return err
	}
	if err := t.rooms.ClearLastEmptyAt(ctx, roomID); err != nil {
		return err
	}
	t.publish(ctx, roomID)
	return nil
}

// Renew extends the caller's liveness lease.
func (t *PresenceTracker) Renew(ctx context.Context, roomID, playerID string) error {
	return t.realtime.TouchPresence(ctx, roomID, playerID, t.leaseTTL)
}

// Disconnected marks the player offline and stamps lastEmptyAt when the
// room just lost its final online player. The stamp is written once, not
// on every observation.
func (t *PresenceTracker) Disconnected(ctx context.Context, roomID, playerID string) error {
	if err := t.realtime.ClearPresence(ctx, roomID, playerID); err != nil {
		return err
	}
	if err := t.rooms.SetOnline(ctx, roomID, playerID, false); err != nil {
		// The player may have left or been kicked in the meantime.
		if !errors.Is(err, domain.ErrPlayerNotFound) {
			return err
		}
	}
	return t.markIfEmpty(ctx, roomID)
}

// Reconcile aligns the durable roster with the current leases of one room:
// roster members whose lease silently expired are flipped offline, and the
// empty-room stamp is applied when nobody holds a lease. Safe to call on
// every sweep; all writes are idempotent.
func (t *PresenceTracker) Reconcile(ctx context.Context, roomID string) error {
	online, err := t.realtime.OnlinePlayers(ctx, roomID)
	if err != nil {
		return err
	}
	leased := make(map[string]struct{}, len(online))
	for _, id := range online {
		leased[id] = struct{}{}
	}

	players, err := t.rooms.Players(ctx, roomID)
	if err != nil {
		return err
	}
	for _, p := range players {
		_, holds := leased[p.ID]
		if p.IsOnline == holds {
			continue
		}
		if err := t.rooms.SetOnline(ctx, roomID, p.ID, holds); err != nil {
			return err
		}
	}

	if len(online) == 0 {
		return t.rooms.SetLastEmptyAt(ctx, roomID, t.now())
	}
	return t.rooms.ClearLastEmptyAt(ctx, roomID)
}

func (t *PresenceTracker) markIfEmpty(ctx context.Context, roomID string) error {
	online, err := t.realtime.OnlinePlayers(ctx, roomID)
	if err != nil {
		return err
	}
	t.publish(ctx, roomID)
	if len(online) > 0 {
		return nil
	}
	return t.rooms.SetLastEmptyAt(ctx, roomID, t.now())
}

func (t *PresenceTracker) publish(ctx context.Context, roomID string) {
	online, err := t.realtime.OnlinePlayers(ctx, roomID)
	if err != nil {
		log.Printf("presence publish failed for room %s: %v", roomID, err)
		return
	}
	if ev, err := NewEvent(EventPresence, roomID, map[string][]string{"online": online}); err == nil {
		_ = t.realtime.Publish(ctx, roomID, ev)
	}
}
