package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore. It backs the
// unit tests and the no-database demo mode; the mutex gives it the same
// atomicity guarantees the Postgres store gets from transactions.
type RoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]*roomRecord
	archives map[string]domain.Room
}

type roomRecord struct {
	room    domain.Room
	players map[string]domain.Player
	answers map[string]domain.AnswerRecord
}

func answerKey(questionID, playerID string) string {
	return questionID + "|" + playerID
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:    make(map[string]*roomRecord),
		archives: make(map[string]domain.Room),
	}
}

func (s *RoomStore) CreateRoom(_ context.Context, room domain.Room, host domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	rec := &roomRecord{
		room:    room,
		players: map[string]domain.Player{host.ID: host},
		answers: make(map[string]domain.AnswerRecord),
	}
	s.rooms[room.ID] = rec
	return nil
}

func (s *RoomStore) RoomByID(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return rec.room, nil
}

func (s *RoomStore) RoomByCode(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.rooms {
		if rec.room.Code == code {
			return rec.room, nil
		}
	}
	return domain.Room{}, domain.ErrRoomNotFound
}

func (s *RoomStore) UpdateStatus(_ context.Context, roomID string, from, to domain.RoomStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if rec.room.Status != from || !from.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	rec.room.Status = to
	switch to {
	case domain.StatusPlaying:
		rec.room.StartedAt = &at
	case domain.StatusFinished:
		rec.room.FinishedAt = &at
	}
	return nil
}

func (s *RoomStore) TransferHost(_ context.Context, roomID, newHostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, ok := rec.players[newHostID]; !ok {
		return domain.ErrPlayerNotFound
	}
	rec.room.HostID = newHostID
	return nil
}

func (s *RoomStore) AddPlayer(_ context.Context, player domain.Player, maxPlayers int) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[player.RoomID]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	if existing, ok := rec.players[player.ID]; ok {
		return existing, nil
	}
	if len(rec.players) >= maxPlayers {
		return domain.Player{}, domain.ErrRoomFull
	}
	rec.players[player.ID] = player
	return player, nil
}

func (s *RoomStore) RemovePlayer(_ context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	delete(rec.players, playerID)
	return nil
}

func (s *RoomStore) Player(_ context.Context, roomID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	player, ok := rec.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, nil
}

func (s *RoomStore) Players(_ context.Context, roomID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	players := make([]domain.Player, 0, len(rec.players))
	for _, p := range rec.players {
		players = append(players, p)
	}
	return players, nil
}

func (s *RoomStore) SetReady(_ context.Context, roomID, playerID string, ready bool) error {
	return s.updatePlayer(roomID, playerID, func(p *domain.Player) { p.IsReady = ready })
}

func (s *RoomStore) SetOnline(_ context.Context, roomID, playerID string, online bool) error {
	return s.updatePlayer(roomID, playerID, func(p *domain.Player) { p.IsOnline = online })
}

func (s *RoomStore) updatePlayer(roomID, playerID string, mutate func(*domain.Player)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	player, ok := rec.players[playerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	mutate(&player)
	rec.players[playerID] = player
	return nil
}

// RecordAnswer commits the answer record and the player's score, streak and
// answer stats under one lock acquisition; a duplicate leaves everything
// untouched.
func (s *RoomStore) RecordAnswer(_ context.Context, answer domain.AnswerRecord) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[answer.RoomID]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	player, ok := rec.players[answer.PlayerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	key := answerKey(answer.QuestionID, answer.PlayerID)
	if _, ok := rec.answers[key]; ok {
		return domain.Player{}, domain.ErrAnswerExists
	}

	rec.answers[key] = answer
	player.Score += answer.PointsAwarded
	player.AnswerCount++
	player.TotalTimeMs += answer.TimeToAnswerMs
	if answer.IsCorrect {
		player.CorrectCount++
		player.Streak++
	} else {
		player.Streak = 0
	}
	rec.players[answer.PlayerID] = player
	return player, nil
}

func (s *RoomStore) PlayerAnswer(_ context.Context, roomID, questionID, playerID string) (domain.AnswerRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.AnswerRecord{}, false, domain.ErrRoomNotFound
	}
	answer, ok := rec.answers[answerKey(questionID, playerID)]
	return answer, ok, nil
}

func (s *RoomStore) AnswersForQuestion(_ context.Context, roomID, questionID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	var answers []domain.AnswerRecord
	for _, a := range rec.answers {
		if a.QuestionID == questionID {
			answers = append(answers, a)
		}
	}
	return answers, nil
}

func (s *RoomStore) SetLastEmptyAt(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if rec.room.LastEmptyAt == nil {
		rec.room.LastEmptyAt = &at
	}
	return nil
}

func (s *RoomStore) ClearLastEmptyAt(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	rec.room.LastEmptyAt = nil
	return nil
}

func (s *RoomStore) ActiveRooms(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]domain.Room, 0, len(s.rooms))
	for _, rec := range s.rooms {
		rooms = append(rooms, rec.room)
	}
	return rooms, nil
}

func (s *RoomStore) EmptyRoomsBefore(_ context.Context, cutoff time.Time) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []domain.Room
	for _, rec := range s.rooms {
		if rec.room.LastEmptyAt != nil && !rec.room.LastEmptyAt.After(cutoff) {
			rooms = append(rooms, rec.room)
		}
	}
	return rooms, nil
}

func (s *RoomStore) ArchiveRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Status = domain.StatusArchived
	s.archives[room.ID] = room
	return nil
}

func (s *RoomStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// ArchivedRoom is a test hook into the archive.
func (s *RoomStore) ArchivedRoom(roomID string) (domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.archives[roomID]
	return room, ok
}
