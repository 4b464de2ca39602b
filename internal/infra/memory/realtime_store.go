package memory

import (
	"context"
	"sync"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RealtimeStore is an in-memory implementation of app.RealtimeStore.
// Presence is lease-based like the Redis version: entries carry an expiry
// checked against the injected clock, so tests can advance time instead of
// sleeping.
type RealtimeStore struct {
	now func() time.Time

	mu          sync.Mutex
	presence    map[string]map[string]time.Time
	games       map[string]domain.GameState
	boards      map[string]domain.Leaderboard
	subscribers map[string]map[chan app.Event]struct{}
	submissions map[string][]time.Time
}

func NewRealtimeStore() *RealtimeStore {
	return NewRealtimeStoreWithClock(time.Now)
}

// NewRealtimeStoreWithClock allows deterministic lease expiry in tests.
func NewRealtimeStoreWithClock(now func() time.Time) *RealtimeStore {
	return &RealtimeStore{
		now:         now,
		presence:    make(map[string]map[string]time.Time),
		games:       make(map[string]domain.GameState),
		boards:      make(map[string]domain.Leaderboard),
		subscribers: make(map[string]map[chan app.Event]struct{}),
		submissions: make(map[string][]time.Time),
	}
}

func (s *RealtimeStore) TouchPresence(_ context.Context, roomID, playerID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.presence[roomID]
	if !ok {
		room = make(map[string]time.Time)
		s.presence[roomID] = room
	}
	room[playerID] = s.now().Add(ttl)
	return nil
}

func (s *RealtimeStore) ClearPresence(_ context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.presence[roomID]; ok {
		delete(room, playerID)
	}
	return nil
}

func (s *RealtimeStore) OnlinePlayers(_ context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var online []string
	for playerID, expiry := range s.presence[roomID] {
		if expiry.After(now) {
			online = append(online, playerID)
		} else {
			delete(s.presence[roomID], playerID)
		}
	}
	return online, nil
}

func (s *RealtimeStore) SetGameState(_ context.Context, roomID string, state domain.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[roomID] = state
	return nil
}

func (s *RealtimeStore) GameState(_ context.Context, roomID string) (domain.GameState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.games[roomID]
	return state, ok, nil
}

func (s *RealtimeStore) SetLeaderboard(_ context.Context, roomID string, lb domain.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[roomID] = lb
	return nil
}

func (s *RealtimeStore) Leaderboard(_ context.Context, roomID string) (domain.Leaderboard, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb, ok := s.boards[roomID]
	return lb, ok, nil
}

func (s *RealtimeStore) Publish(_ context.Context, roomID string, event app.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers[roomID] {
		select {
		case ch <- event:
		default:
			// Drop the oldest pending event rather than blocking the
			// publisher on a slow subscriber.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

func (s *RealtimeStore) Subscribe(_ context.Context, roomID string) (<-chan app.Event, func(), error) {
	ch := make(chan app.Event, 16)

	s.mu.Lock()
	subs, ok := s.subscribers[roomID]
	if !ok {
		subs = make(map[chan app.Event]struct{})
		s.subscribers[roomID] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[roomID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

func (s *RealtimeStore) AllowSubmission(_ context.Context, roomID, playerID string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomID + "|" + playerID
	now := s.now()
	floor := now.Add(-window)

	recent := s.submissions[key][:0]
	for _, ts := range s.submissions[key] {
		if ts.After(floor) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= limit {
		s.submissions[key] = recent
		return false, nil
	}
	s.submissions[key] = append(recent, now)
	return true, nil
}

func (s *RealtimeStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, roomID)
	delete(s.games, roomID)
	delete(s.boards, roomID)
	for key := range s.submissions {
		if len(key) > len(roomID) && key[:len(roomID)] == roomID && key[len(roomID)] == '|' {
			delete(s.submissions, key)
		}
	}
	for ch := range s.subscribers[roomID] {
		close(ch)
	}
	delete(s.subscribers, roomID)
	return nil
}
