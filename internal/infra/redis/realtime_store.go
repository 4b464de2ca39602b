package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RealtimeStore implements app.RealtimeStore on Redis.
//
// Key layout per room:
//
//	rooms:{id}:presence:{player}  liveness lease, value "1", expiry = lease TTL
//	rooms:{id}:game               current question clock, JSON
//	rooms:{id}:leaderboard        hash: playerID -> marshaled entry
//	rooms:{id}:leaderboard:at     last SetLeaderboard timestamp, RFC 3339
//	rooms:{id}:events             pub/sub channel for fan-out
//	rooms:{id}:submissions:{p}    rate-limit sliding window, sorted set
//
// Presence is the lease pattern: the key's TTL is the lease, renewal is a
// plain SET with expiry, and an ungraceful disconnect simply stops
// renewing, so the key vanishing is the offline signal.
type RealtimeStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRealtimeStore(client *redis.Client) *RealtimeStore {
	return &RealtimeStore{client: client, now: time.Now}
}

// NewRealtimeStoreWithClock is test-only for deterministic rate windows.
func NewRealtimeStoreWithClock(client *redis.Client, now func() time.Time) *RealtimeStore {
	return &RealtimeStore{client: client, now: now}
}

func (s *RealtimeStore) TouchPresence(ctx context.Context, roomID, playerID string, ttl time.Duration) error {
	return s.client.Set(ctx, presenceKey(roomID, playerID), "1", ttl).Err()
}

func (s *RealtimeStore) ClearPresence(ctx context.Context, roomID, playerID string) error {
	return s.client.Del(ctx, presenceKey(roomID, playerID)).Err()
}

func (s *RealtimeStore) OnlinePlayers(ctx context.Context, roomID string) ([]string, error) {
	prefix := presenceKey(roomID, "")
	var online []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		online = append(online, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	return online, nil
}

func (s *RealtimeStore) SetGameState(ctx context.Context, roomID string, state domain.GameState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, gameKey(roomID), raw, 0).Err()
}

func (s *RealtimeStore) GameState(ctx context.Context, roomID string) (domain.GameState, bool, error) {
	raw, err := s.client.Get(ctx, gameKey(roomID)).Bytes()
	if err == redis.Nil {
		return domain.GameState{}, false, nil
	}
	if err != nil {
		return domain.GameState{}, false, fmt.Errorf("get game state: %w", err)
	}
	var state domain.GameState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.GameState{}, false, fmt.Errorf("unmarshal game state: %w", err)
	}
	return state, true, nil
}

func (s *RealtimeStore) SetLeaderboard(ctx context.Context, roomID string, lb domain.Leaderboard) error {
	fields := make(map[string]interface{}, len(lb.Entries))
	for _, entry := range lb.Entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		fields[entry.PlayerID] = raw
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, leaderboardKey(roomID))
	if len(fields) > 0 {
		pipe.HSet(ctx, leaderboardKey(roomID), fields)
	}
	pipe.Set(ctx, leaderboardUpdatedKey(roomID), lb.UpdatedAt.Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RealtimeStore) Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, bool, error) {
	fields, err := s.client.HGetAll(ctx, leaderboardKey(roomID)).Result()
	if err != nil {
		return domain.Leaderboard{}, false, fmt.Errorf("get leaderboard: %w", err)
	}
	if len(fields) == 0 {
		return domain.Leaderboard{}, false, nil
	}
	entries := make([]domain.LeaderboardEntry, 0, len(fields))
	for _, raw := range fields {
		var entry domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return domain.Leaderboard{}, false, fmt.Errorf("unmarshal leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })

	var updatedAt time.Time
	if raw, err := s.client.Get(ctx, leaderboardUpdatedKey(roomID)).Result(); err == nil {
		updatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	} else if err != redis.Nil {
		return domain.Leaderboard{}, false, fmt.Errorf("get leaderboard timestamp: %w", err)
	}
	return domain.Leaderboard{RoomID: roomID, Entries: entries, UpdatedAt: updatedAt}, true, nil
}

func (s *RealtimeStore) Publish(ctx context.Context, roomID string, event app.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, eventsChannel(roomID), raw).Err()
}

func (s *RealtimeStore) Subscribe(ctx context.Context, roomID string) (<-chan app.Event, func(), error) {
	pubsub := s.client.Subscribe(ctx, eventsChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	events := make(chan app.Event, 16)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event app.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			default:
				// Drop the oldest pending event rather than blocking the
				// forwarder on a consumer that stopped draining; a parked
				// send here would outlive cancel.
				select {
				case <-events:
				default:
				}
				events <- event
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return events, cancel, nil
}

func (s *RealtimeStore) AllowSubmission(ctx context.Context, roomID, playerID string, limit int, window time.Duration) (bool, error) {
	key := submissionsKey(roomID, playerID)
	now := s.now()
	floor := now.Add(-window)

	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", floor.UnixNano())).Err(); err != nil {
		return false, fmt.Errorf("trim rate window: %w", err)
	}
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("count rate window: %w", err)
	}
	if count >= int64(limit) {
		return false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("record submission: %w", err)
	}
	return true, nil
}

func (s *RealtimeStore) DeleteRoom(ctx context.Context, roomID string) error {
	prefix := "rooms:" + roomID + ":"
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan room keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func presenceKey(roomID, playerID string) string {
	return "rooms:" + roomID + ":presence:" + playerID
}

func gameKey(roomID string) string {
	return "rooms:" + roomID + ":game"
}

func leaderboardKey(roomID string) string {
	return "rooms:" + roomID + ":leaderboard"
}

func leaderboardUpdatedKey(roomID string) string {
	return "rooms:" + roomID + ":leaderboard:at"
}

func eventsChannel(roomID string) string {
	return "rooms:" + roomID + ":events"
}

func submissionsKey(roomID, playerID string) string {
	return "rooms:" + roomID + ":submissions:" + playerID
}
