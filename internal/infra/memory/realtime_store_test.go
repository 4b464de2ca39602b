package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRealtimeStorePresenceLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Now()}
	store := NewRealtimeStoreWithClock(clock.Now)

	if err := store.TouchPresence(ctx, "room-1", "u1", 30*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}
	online, err := store.OnlinePlayers(ctx, "room-1")
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if len(online) != 1 || online[0] != "u1" {
		t.Fatalf("expected u1 online, got %v", online)
	}

	clock.Advance(31 * time.Second)
	online, _ = store.OnlinePlayers(ctx, "room-1")
	if len(online) != 0 {
		t.Fatalf("expected lease expired, got %v", online)
	}

	// Renewing before expiry keeps the lease alive.
	if err := store.TouchPresence(ctx, "room-1", "u1", 30*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}
	clock.Advance(20 * time.Second)
	if err := store.TouchPresence(ctx, "room-1", "u1", 30*time.Second); err != nil {
		t.Fatalf("renew: %v", err)
	}
	clock.Advance(20 * time.Second)
	online, _ = store.OnlinePlayers(ctx, "room-1")
	if len(online) != 1 {
		t.Fatalf("expected renewed lease alive, got %v", online)
	}
}

func TestRealtimeStorePublishSubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewRealtimeStore()

	ch, cancel, err := store.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ev, err := app.NewEvent(app.EventRoster, "room-1", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := store.Publish(ctx, "room-1", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != app.EventRoster || got.RoomID != "room-1" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}

	// Events for other rooms do not leak across channels.
	other, err := app.NewEvent(app.EventChat, "room-2", nil)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := store.Publish(ctx, "room-2", other); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	select {
	case got := <-ch:
		t.Fatalf("received event for wrong room: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeStoreSlowSubscriberDropsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewRealtimeStore()

	ch, cancel, err := store.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Overflow the buffer without reading; Publish must never block.
	for i := 0; i < 2*cap(ch)+2; i++ {
		ev, _ := app.NewEvent(app.EventLeaderboard, "room-1", i)
		if err := store.Publish(ctx, "room-1", ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	// The channel still holds events; the oldest were dropped.
	if len(ch) == 0 {
		t.Fatalf("expected buffered events after overflow")
	}
}

func TestRealtimeStoreGameStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewRealtimeStore()

	if _, ok, err := store.GameState(ctx, "room-1"); err != nil || ok {
		t.Fatalf("expected no state, got ok=%v err=%v", ok, err)
	}

	state := domain.GameState{RoomID: "room-1", QuestionIndex: 2, QuestionID: "q3", TimePerQuestionMs: 30000}
	if err := store.SetGameState(ctx, "room-1", state); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, ok, err := store.GameState(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if got.QuestionIndex != 2 || got.QuestionID != "q3" {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestRealtimeStoreRateLimiter(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Now()}
	store := NewRealtimeStoreWithClock(clock.Now)

	allowed, err := store.AllowSubmission(ctx, "room-1", "u1", 1, time.Second)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatalf("first submission should pass")
	}

	allowed, _ = store.AllowSubmission(ctx, "room-1", "u1", 1, time.Second)
	if allowed {
		t.Fatalf("second submission inside the window should be rejected")
	}

	clock.Advance(1100 * time.Millisecond)
	allowed, _ = store.AllowSubmission(ctx, "room-1", "u1", 1, time.Second)
	if !allowed {
		t.Fatalf("submission after the window should pass")
	}
}

func TestRealtimeStoreDeleteRoom(t *testing.T) {
	ctx := context.Background()
	store := NewRealtimeStore()

	_ = store.TouchPresence(ctx, "room-1", "u1", time.Minute)
	_ = store.SetGameState(ctx, "room-1", domain.GameState{RoomID: "room-1"})
	_ = store.SetLeaderboard(ctx, "room-1", domain.Leaderboard{RoomID: "room-1"})
	ch, cancel, err := store.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := store.DeleteRoom(ctx, "room-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if online, _ := store.OnlinePlayers(ctx, "room-1"); len(online) != 0 {
		t.Fatalf("expected presence cleared, got %v", online)
	}
	if _, ok, _ := store.GameState(ctx, "room-1"); ok {
		t.Fatalf("expected game state removed")
	}
	if _, open := <-ch; open {
		t.Fatalf("expected subscriber channel closed")
	}
}
