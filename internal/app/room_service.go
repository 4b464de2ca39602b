package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	defaultMaxPlayers      = 4
	maxMaxPlayers          = 20
	defaultTimePerQuestion = 30 * time.Second
)

// RoomPolicy holds the start requirements the lifecycle manager enforces.
type RoomPolicy struct {
	// MinPlayers is the roster size required before the host may start.
	MinPlayers int
	// RequireReady demands every roster member has toggled ready.
	RequireReady bool
}

// RoomService is the room lifecycle manager: create, join, leave, start,
// kick, and host handover.
type RoomService struct {
	rooms    RoomStore
	quizzes  QuizRepository
	realtime RealtimeStore
	policy   RoomPolicy
	now      func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRoomService(rooms RoomStore, quizzes QuizRepository, realtime RealtimeStore, policy RoomPolicy) *RoomService {
	if policy.MinPlayers < 1 {
		policy.MinPlayers = 1
	}
	return &RoomService{
		rooms:    rooms,
		quizzes:  quizzes,
		realtime: realtime,
		policy:   policy,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewRoomServiceWithClock is test-only for deterministic timestamps.
func NewRoomServiceWithClock(rooms RoomStore, quizzes QuizRepository, realtime RealtimeStore, policy RoomPolicy, now func() time.Time) *RoomService {
	s := NewRoomService(rooms, quizzes, realtime, policy)
	s.now = now
	return s
}

// CreateRoom persists a waiting room with the host as its first roster
// member. Quizzes without questions are rejected up front.
func (s *RoomService) CreateRoom(ctx context.Context, host domain.Identity, name, quizID, password string, settings domain.RoomSettings) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, fmt.Errorf("%w: room name required", domain.ErrInvalidArgument)
	}
	if settings.MaxPlayers <= 0 {
		settings.MaxPlayers = defaultMaxPlayers
	}
	if settings.MaxPlayers > maxMaxPlayers {
		return domain.Room{}, fmt.Errorf("%w: max players above %d", domain.ErrInvalidArgument, maxMaxPlayers)
	}
	if settings.TimePerQuestion <= 0 {
		settings.TimePerQuestion = defaultTimePerQuestion
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Room{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Room{}, domain.ErrEmptyQuiz
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return domain.Room{}, err
	}

	now := s.now()
	room := domain.Room{
		ID:        uuid.NewString(),
		Code:      code,
		Name:      name,
		HostID:    host.UserID,
		QuizID:    quizID,
		Settings:  settings,
		Status:    domain.StatusWaiting,
		CreatedAt: now,
	}
	if password != "" {
		room.PasswordSalt = uuid.NewString()
		room.PasswordHash = hashPassword(password, room.PasswordSalt)
		room.Settings.Private = true
	}

	hostPlayer := domain.Player{
		ID:          host.UserID,
		RoomID:      room.ID,
		DisplayName: host.DisplayName,
		AvatarURL:   host.AvatarURL,
		IsOnline:    true,
		JoinedAt:    now,
	}
	if err := s.rooms.CreateRoom(ctx, room, hostPlayer); err != nil {
		return domain.Room{}, err
	}
	log.Printf("room created id=%s code=%s quiz=%s host=%s", room.ID, room.Code, quizID, host.UserID)
	return room, nil
}

// JoinRoom adds the caller to the roster. Rejoining is idempotent: an
// existing member gets their current entry back, no duplicate is created.
func (s *RoomService) JoinRoom(ctx context.Context, roomOrCode string, id domain.Identity, password string) (domain.Room, domain.Player, error) {
	room, err := s.resolveRoom(ctx, roomOrCode)
	if err != nil {
		return domain.Room{}, domain.Player{}, err
	}

	// An existing member may always come back, even mid-game.
	if existing, err := s.rooms.Player(ctx, room.ID, id.UserID); err == nil {
		return room, existing, nil
	}

	switch room.Status {
	case domain.StatusWaiting:
	case domain.StatusPlaying:
		if !room.Settings.AllowLateJoin {
			return domain.Room{}, domain.Player{}, domain.ErrLateJoinDisabled
		}
	default:
		return domain.Room{}, domain.Player{}, domain.ErrRoomClosed
	}

	if room.PasswordHash != "" && hashPassword(password, room.PasswordSalt) != room.PasswordHash {
		return domain.Room{}, domain.Player{}, domain.ErrWrongPassword
	}

	player := domain.Player{
		ID:          id.UserID,
		RoomID:      room.ID,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
		IsOnline:    true,
		JoinedAt:    s.now(),
	}
	player, err = s.rooms.AddPlayer(ctx, player, room.Settings.MaxPlayers)
	if err != nil {
		return domain.Room{}, domain.Player{}, err
	}
	s.publishRoster(ctx, room.ID)
	return room, player, nil
}

// LeaveRoom removes the caller from the roster. A departing host hands the
// room to the earliest-joined remaining player; an emptied room is stamped
// for the reaper rather than deleted inline.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.rooms.Player(ctx, roomID, playerID); err != nil {
		return err
	}

	if err := s.rooms.RemovePlayer(ctx, roomID, playerID); err != nil {
		return err
	}
	_ = s.realtime.ClearPresence(ctx, roomID, playerID)

	remaining, err := s.rooms.Players(ctx, roomID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := s.rooms.SetLastEmptyAt(ctx, roomID, s.now()); err != nil {
			return err
		}
		return nil
	}

	if room.HostID == playerID {
		newHost := earliestJoined(remaining)
		if err := s.rooms.TransferHost(ctx, roomID, newHost.ID); err != nil {
			return err
		}
		s.systemMessage(ctx, roomID, fmt.Sprintf("Host left. %s is now the host.", newHost.DisplayName))
		log.Printf("room %s host transferred %s -> %s", roomID, playerID, newHost.ID)
	}
	s.publishRoster(ctx, roomID)
	return nil
}

// SetReady flips the caller's readiness flag.
func (s *RoomService) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	if err := s.rooms.SetReady(ctx, roomID, playerID, ready); err != nil {
		return err
	}
	s.publishRoster(ctx, roomID)
	return nil
}

// StartGame transitions the room to playing. Host-only; enforces the
// minimum roster size and, when configured, all-ready.
func (s *RoomService) StartGame(ctx context.Context, roomID, requesterID string) (domain.GameState, error) {
	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return domain.GameState{}, err
	}
	if room.HostID != requesterID {
		return domain.GameState{}, domain.ErrNotHost
	}

	players, err := s.rooms.Players(ctx, roomID)
	if err != nil {
		return domain.GameState{}, err
	}
	if len(players) < s.policy.MinPlayers {
		return domain.GameState{}, domain.ErrNotEnoughPlayers
	}
	if s.policy.RequireReady {
		for _, p := range players {
			if !p.IsReady {
				return domain.GameState{}, domain.ErrPlayersNotReady
			}
		}
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.GameState{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.GameState{}, domain.ErrEmptyQuiz
	}

	now := s.now()
	if err := s.rooms.UpdateStatus(ctx, roomID, domain.StatusWaiting, domain.StatusPlaying, now); err != nil {
		return domain.GameState{}, err
	}

	state := domain.GameState{
		RoomID:            roomID,
		QuestionIndex:     0,
		QuestionID:        quiz.Questions[0].ID,
		QuestionStartedAt: now,
		TimePerQuestionMs: room.Settings.TimePerQuestion.Milliseconds(),
	}
	if err := s.realtime.SetGameState(ctx, roomID, state); err != nil {
		return domain.GameState{}, err
	}
	if ev, err := NewEvent(EventQuestion, roomID, state); err == nil {
		_ = s.realtime.Publish(ctx, roomID, ev)
	}
	log.Printf("room %s started with %d players", roomID, len(players))
	return state, nil
}

// KickPlayer removes a roster member. Host-only; the host cannot kick
// themselves.
func (s *RoomService) KickPlayer(ctx context.Context, roomID, requesterID, targetID string) error {
	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != requesterID {
		return domain.ErrNotHost
	}
	if targetID == requesterID {
		return fmt.Errorf("%w: host cannot kick themselves", domain.ErrInvalidArgument)
	}

	target, err := s.rooms.Player(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if err := s.rooms.RemovePlayer(ctx, roomID, targetID); err != nil {
		return err
	}
	_ = s.realtime.ClearPresence(ctx, roomID, targetID)

	if ev, err := NewEvent(EventKicked, roomID, map[string]string{"playerId": targetID}); err == nil {
		_ = s.realtime.Publish(ctx, roomID, ev)
	}
	s.systemMessage(ctx, roomID, fmt.Sprintf("%s was kicked from the room", target.DisplayName))
	s.publishRoster(ctx, roomID)
	return nil
}

// SendChat passes a chat message through to room subscribers. The
// coordinator does not interpret chat content.
func (s *RoomService) SendChat(ctx context.Context, roomID string, sender domain.Identity, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty chat message", domain.ErrInvalidArgument)
	}
	if _, err := s.rooms.Player(ctx, roomID, sender.UserID); err != nil {
		return err
	}
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Body:       body,
		SentAt:     s.now(),
	}
	ev, err := NewEvent(EventChat, roomID, msg)
	if err != nil {
		return err
	}
	return s.realtime.Publish(ctx, roomID, ev)
}

// Room resolves a room by id or join code.
func (s *RoomService) Room(ctx context.Context, roomOrCode string) (domain.Room, error) {
	return s.resolveRoom(ctx, roomOrCode)
}

// Roster returns the current players of a room.
func (s *RoomService) Roster(ctx context.Context, roomID string) ([]domain.Player, error) {
	return s.rooms.Players(ctx, roomID)
}

func (s *RoomService) resolveRoom(ctx context.Context, roomOrCode string) (domain.Room, error) {
	if len(roomOrCode) == codeLength {
		if room, err := s.rooms.RoomByCode(ctx, strings.ToUpper(roomOrCode)); err == nil {
			return room, nil
		}
	}
	return s.rooms.RoomByID(ctx, roomOrCode)
}

func (s *RoomService) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := s.randomCode()
		_, err := s.rooms.RoomByCode(ctx, code)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check room code: %w", err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique room code")
}

func (s *RoomService) randomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[s.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}

func (s *RoomService) publishRoster(ctx context.Context, roomID string) {
	players, err := s.rooms.Players(ctx, roomID)
	if err != nil {
		log.Printf("roster publish failed for room %s: %v", roomID, err)
		return
	}
	if ev, err := NewEvent(EventRoster, roomID, players); err == nil {
		_ = s.realtime.Publish(ctx, roomID, ev)
	}
}

func (s *RoomService) systemMessage(ctx context.Context, roomID, body string) {
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   "system",
		SenderName: "System",
		Body:       body,
		System:     true,
		SentAt:     s.now(),
	}
	if ev, err := NewEvent(EventChat, roomID, msg); err == nil {
		_ = s.realtime.Publish(ctx, roomID, ev)
	}
}

func earliestJoined(players []domain.Player) domain.Player {
	best := players[0]
	for _, p := range players[1:] {
		if p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}
