package app

import (
	"context"
	"log"
	"time"

	"quizroom-service/internal/domain"
)

// ReaperPolicy configures the abandoned-room sweep.
type ReaperPolicy struct {
	// Interval between scheduled sweeps.
	Interval time.Duration
	// EmptyTTL is how long a room may sit with no online player before it
	// is reclaimed.
	EmptyTTL time.Duration
	// ArchiveFinished copies finished rooms to the archive before deletion.
	ArchiveFinished bool
}

func (p ReaperPolicy) withDefaults() ReaperPolicy {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Minute
	}
	if p.EmptyTTL <= 0 {
		p.EmptyTTL = 30 * time.Minute
	}
	return p
}

// Reaper reclaims abandoned rooms. Each sweep reconciles presence leases
// first, then deletes every room whose empty stamp predates the TTL.
// Sweeps are idempotent and safe to run concurrently with each other:
// deleting an already-deleted room is a no-op.
type Reaper struct {
	rooms    RoomStore
	realtime RealtimeStore
	presence *PresenceTracker
	policy   ReaperPolicy
	now      func() time.Time
}

func NewReaper(rooms RoomStore, realtime RealtimeStore, presence *PresenceTracker, policy ReaperPolicy) *Reaper {
	return &Reaper{
		rooms:    rooms,
		realtime: realtime,
		presence: presence,
		policy:   policy.withDefaults(),
		now:      time.Now,
	}
}

// NewReaperWithClock is test-only for deterministic sweeps.
func NewReaperWithClock(rooms RoomStore, realtime RealtimeStore, presence *PresenceTracker, policy ReaperPolicy, now func() time.Time) *Reaper {
	r := NewReaper(rooms, realtime, presence, policy)
	r.now = now
	return r
}

// Run sweeps on a ticker until ctx is cancelled. Sweep failures are
// housekeeping: logged and retried on the next tick, never surfaced.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped, err := r.RunOnce(ctx, false); err != nil {
				log.Printf("reaper sweep failed: %v", err)
			} else if reaped > 0 {
				log.Printf("reaper reclaimed %d rooms", reaped)
			}
		}
	}
}

// RunOnce performs a single sweep and returns how many rooms it reclaimed.
// With force set (the elevated manual-cleanup trigger) the empty TTL is
// ignored and every currently-empty room goes.
func (r *Reaper) RunOnce(ctx context.Context, force bool) (int, error) {
	active, err := r.rooms.ActiveRooms(ctx)
	if err != nil {
		return 0, err
	}
	for _, room := range active {
		if err := r.presence.Reconcile(ctx, room.ID); err != nil {
			log.Printf("presence reconcile failed for room %s: %v", room.ID, err)
		}
	}

	cutoff := r.now().Add(-r.policy.EmptyTTL)
	if force {
		cutoff = r.now()
	}
	expired, err := r.rooms.EmptyRoomsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, room := range expired {
		if err := r.reap(ctx, room); err != nil {
			log.Printf("failed to reap room %s: %v", room.ID, err)
			continue
		}
		reaped++
	}
	return reaped, nil
}

func (r *Reaper) reap(ctx context.Context, room domain.Room) error {
	if r.policy.ArchiveFinished && room.Status == domain.StatusFinished {
		if err := r.rooms.ArchiveRoom(ctx, room); err != nil {
			return err
		}
	}
	if err := r.realtime.DeleteRoom(ctx, room.ID); err != nil {
		return err
	}
	if err := r.rooms.DeleteRoom(ctx, room.ID); err != nil {
		return err
	}
	log.Printf("reaped room %s (status=%s)", room.ID, room.Status)
	return nil
}
