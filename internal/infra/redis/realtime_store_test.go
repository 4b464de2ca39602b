package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func newTestStore(t *testing.T) (*RealtimeStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRealtimeStore(client), mr
}

func TestRealtimeStorePresenceLease(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.TouchPresence(ctx, "room-1", "u1", 30*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !mr.Exists("rooms:room-1:presence:u1") {
		t.Fatalf("expected presence key to be set")
	}

	online, err := store.OnlinePlayers(ctx, "room-1")
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if len(online) != 1 || online[0] != "u1" {
		t.Fatalf("expected u1 online, got %v", online)
	}

	// The lease vanishes on its own when not renewed.
	mr.FastForward(31 * time.Second)
	online, _ = store.OnlinePlayers(ctx, "room-1")
	if len(online) != 0 {
		t.Fatalf("expected lease expired, got %v", online)
	}
}

func TestRealtimeStoreClearPresence(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_ = store.TouchPresence(ctx, "room-1", "u1", time.Minute)
	if err := store.ClearPresence(ctx, "room-1", "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists("rooms:room-1:presence:u1") {
		t.Fatalf("expected presence key removed")
	}
}

func TestRealtimeStoreGameStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if _, ok, err := store.GameState(ctx, "room-1"); err != nil || ok {
		t.Fatalf("expected no state, got ok=%v err=%v", ok, err)
	}

	started := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	state := domain.GameState{
		RoomID:            "room-1",
		QuestionIndex:     1,
		QuestionID:        "q2",
		QuestionStartedAt: started,
		TimePerQuestionMs: 30000,
	}
	if err := store.SetGameState(ctx, "room-1", state); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := store.GameState(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.QuestionID != "q2" || !got.QuestionStartedAt.Equal(started) {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestRealtimeStoreLeaderboardRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	updated := time.Date(2025, 8, 20, 12, 0, 5, 0, time.UTC)
	lb := domain.Leaderboard{
		RoomID: "room-1",
		Entries: []domain.LeaderboardEntry{
			{Rank: 1, PlayerID: "u2", DisplayName: "Bob", Score: 2500},
			{Rank: 2, PlayerID: "u1", DisplayName: "Alice", Score: 1416},
		},
		UpdatedAt: updated,
	}
	if err := store.SetLeaderboard(ctx, "room-1", lb); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := store.Leaderboard(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got.Entries) != 2 || got.Entries[0].PlayerID != "u2" || got.Entries[1].PlayerID != "u1" {
		t.Fatalf("expected rank order preserved, got %+v", got.Entries)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Fatalf("expected updatedAt %v, got %v", updated, got.UpdatedAt)
	}
}

func TestRealtimeStorePublishSubscribe(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ch, cancel, err := store.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ev, err := app.NewEvent(app.EventQuestion, "room-1", map[string]int{"index": 0})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := store.Publish(ctx, "room-1", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != app.EventQuestion || got.RoomID != "room-1" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestRealtimeStoreRateLimiter(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var mu sync.Mutex
	now := time.Now()
	store := NewRealtimeStoreWithClock(client, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

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

	mu.Lock()
	now = now.Add(1100 * time.Millisecond)
	mu.Unlock()
	allowed, _ = store.AllowSubmission(ctx, "room-1", "u1", 1, time.Second)
	if !allowed {
		t.Fatalf("submission after the window should pass")
	}
}

func TestRealtimeStoreDeleteRoom(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_ = store.TouchPresence(ctx, "room-1", "u1", time.Minute)
	_ = store.SetGameState(ctx, "room-1", domain.GameState{RoomID: "room-1"})
	_ = store.SetLeaderboard(ctx, "room-1", domain.Leaderboard{
		RoomID:  "room-1",
		Entries: []domain.LeaderboardEntry{{Rank: 1, PlayerID: "u1"}},
	})
	_ = store.TouchPresence(ctx, "room-2", "u9", time.Minute)

	if err := store.DeleteRoom(ctx, "room-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, key := range []string{
		"rooms:room-1:presence:u1",
		"rooms:room-1:game",
		"rooms:room-1:leaderboard",
	} {
		if mr.Exists(key) {
			t.Fatalf("expected %s removed", key)
		}
	}
	if !mr.Exists("rooms:room-2:presence:u9") {
		t.Fatalf("delete must not touch other rooms")
	}
}

func TestRealtimeStoreSubscribeCancelWithBacklog(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ch, cancel, err := store.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev, err := app.NewEvent(app.EventChat, "room-1", map[string]string{"body": "hi"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	// Fill well past the channel buffer without draining, then cancel. The
	// forwarder must still exit and close the channel instead of parking on
	// a full send.
	for i := 0; i < 40; i++ {
		if err := store.Publish(ctx, "room-1", ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("event channel did not close after cancel")
		}
	}
}
