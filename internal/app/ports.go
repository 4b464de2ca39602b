package app

import (
	"context"
	"encoding/json"
	"time"

	"quizroom-service/internal/domain"
)

// RoomStore is the durable, transactional side of the two-tier persistence
// split: rooms, rosters and answer records live here. Implementations must
// make AddPlayer and RecordAnswer atomic check-and-creates, not
// read-then-writes.
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room, host domain.Player) error
	RoomByID(ctx context.Context, roomID string) (domain.Room, error)
	RoomByCode(ctx context.Context, code string) (domain.Room, error)
	// UpdateStatus applies a single forward status transition and fails with
	// domain.ErrInvalidTransition when the stored status is not `from`.
	UpdateStatus(ctx context.Context, roomID string, from, to domain.RoomStatus, at time.Time) error
	TransferHost(ctx context.Context, roomID, newHostID string) error

	// AddPlayer inserts the roster entry unless the roster already holds
	// maxPlayers members. Re-adding an existing player is a no-op that
	// returns the stored entry.
	AddPlayer(ctx context.Context, player domain.Player, maxPlayers int) (domain.Player, error)
	RemovePlayer(ctx context.Context, roomID, playerID string) error
	Player(ctx context.Context, roomID, playerID string) (domain.Player, error)
	Players(ctx context.Context, roomID string) ([]domain.Player, error)
	SetReady(ctx context.Context, roomID, playerID string, ready bool) error
	SetOnline(ctx context.Context, roomID, playerID string, online bool) error

	// RecordAnswer persists the answer record and folds its outcome into the
	// player row (score, streak, correct count, answer time) as one atomic
	// unit. A duplicate (room, question, player) fails with
	// domain.ErrAnswerExists and leaves the player row untouched.
	RecordAnswer(ctx context.Context, rec domain.AnswerRecord) (domain.Player, error)
	PlayerAnswer(ctx context.Context, roomID, questionID, playerID string) (domain.AnswerRecord, bool, error)
	AnswersForQuestion(ctx context.Context, roomID, questionID string) ([]domain.AnswerRecord, error)

	// SetLastEmptyAt stamps the empty-room transition once; it is a no-op
	// when a timestamp is already present.
	SetLastEmptyAt(ctx context.Context, roomID string, at time.Time) error
	ClearLastEmptyAt(ctx context.Context, roomID string) error
	ActiveRooms(ctx context.Context) ([]domain.Room, error)
	EmptyRoomsBefore(ctx context.Context, cutoff time.Time) ([]domain.Room, error)

	ArchiveRoom(ctx context.Context, room domain.Room) error
	// DeleteRoom cascade-deletes the room with its players and answers.
	// Deleting an absent room is a no-op.
	DeleteRoom(ctx context.Context, roomID string) error
}

// RealtimeStore is the low-latency, push-on-change side: presence leases,
// the per-room question clock, leaderboard snapshots and event fan-out.
// It is never authoritative for scores or correctness.
type RealtimeStore interface {
	// TouchPresence creates or renews the player's liveness lease. A lease
	// that is not renewed within ttl counts as offline.
	TouchPresence(ctx context.Context, roomID, playerID string, ttl time.Duration) error
	ClearPresence(ctx context.Context, roomID, playerID string) error
	OnlinePlayers(ctx context.Context, roomID string) ([]string, error)

	SetGameState(ctx context.Context, roomID string, state domain.GameState) error
	GameState(ctx context.Context, roomID string) (domain.GameState, bool, error)

	SetLeaderboard(ctx context.Context, roomID string, lb domain.Leaderboard) error
	Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, bool, error)

	Publish(ctx context.Context, roomID string, event Event) error
	// Subscribe returns a channel of room events. The caller must invoke the
	// returned cancel function to avoid leaks. Delivery is eventually
	// consistent; reconnecting clients reconcile from snapshots, not from
	// replayed events.
	Subscribe(ctx context.Context, roomID string) (<-chan Event, func(), error)

	// AllowSubmission counts a submission attempt against the player's
	// sliding window and reports whether it stays within limit.
	AllowSubmission(ctx context.Context, roomID, playerID string, limit int, window time.Duration) (bool, error)

	// DeleteRoom drops every ephemeral key for the room.
	DeleteRoom(ctx context.Context, roomID string) error
}

// QuizRepository loads quiz content (from cache/backing store). The quiz
// data is owned by the authoring subsystem and never mutated here.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Event kinds pushed to room subscribers.
const (
	EventRoster      = "roster"
	EventPresence    = "presence"
	EventQuestion    = "question"
	EventLeaderboard = "leaderboard"
	EventFinished    = "finished"
	EventChat        = "chat"
	EventKicked      = "kicked"
)

// Event is one fan-out message on a room channel.
type Event struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a room event.
func NewEvent(eventType, roomID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, RoomID: roomID, Payload: raw}, nil
}
