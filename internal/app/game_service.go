package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"quizroom-service/internal/domain"
)

const (
	basePoints = 1000
	maxBonus   = 500
)

// GamePolicy holds question-flow and anti-abuse configuration.
type GamePolicy struct {
	// GracePeriod pads the question deadline to absorb network jitter.
	GracePeriod time.Duration
	// RateLimit and RateWindow bound submissions per player: more than
	// RateLimit attempts inside RateWindow are rejected.
	RateLimit  int
	RateWindow time.Duration
	// AutoAdvance moves to the next question as soon as every online
	// player has a validated answer; otherwise the host drives advancement.
	AutoAdvance bool
}

func (p GamePolicy) withDefaults() GamePolicy {
	if p.GracePeriod <= 0 {
		p.GracePeriod = 2 * time.Second
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 1
	}
	if p.RateWindow <= 0 {
		p.RateWindow = time.Second
	}
	return p
}

// QuestionView is a question as one specific player sees it: options in
// that player's permuted order and no correct index.
type QuestionView struct {
	Index             int             `json:"index"`
	Total             int             `json:"total"`
	QuestionID        string          `json:"questionId"`
	Prompt            string          `json:"prompt"`
	Options           []domain.Option `json:"options"`
	QuestionStartedAt time.Time       `json:"questionStartedAt"`
	TimePerQuestionMs int64           `json:"timePerQuestionMs"`
	Answered          bool            `json:"answered"`
}

// GameService is the question flow controller and the server-authoritative
// answer validation and scoring path.
type GameService struct {
	rooms    RoomStore
	quizzes  QuizRepository
	realtime RealtimeStore
	policy   GamePolicy
	now      func() time.Time
}

func NewGameService(rooms RoomStore, quizzes QuizRepository, realtime RealtimeStore, policy GamePolicy) *GameService {
	return &GameService{
		rooms:    rooms,
		quizzes:  quizzes,
		realtime: realtime,
		policy:   policy.withDefaults(),
		now:      time.Now,
	}
}

// NewGameServiceWithClock is test-only for deterministic deadlines.
func NewGameServiceWithClock(rooms RoomStore, quizzes QuizRepository, realtime RealtimeStore, policy GamePolicy, now func() time.Time) *GameService {
	s := NewGameService(rooms, quizzes, realtime, policy)
	s.now = now
	return s
}

// PlayerQuestion returns the current question rendered for one player. It
// is safe to call repeatedly: a reconnecting client re-derives its view,
// including whether it already answered, from current state alone.
func (s *GameService) PlayerQuestion(ctx context.Context, roomID, playerID string) (QuestionView, error) {
	state, ok, err := s.realtime.GameState(ctx, roomID)
	if err != nil {
		return QuestionView{}, err
	}
	if !ok {
		return QuestionView{}, domain.ErrGameNotStarted
	}

	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return QuestionView{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return QuestionView{}, err
	}
	if state.QuestionIndex >= len(quiz.Questions) {
		return QuestionView{}, domain.ErrQuestionNotFound
	}
	q := quiz.Questions[state.QuestionIndex]

	perm := OptionPermutation(len(q.Options), OptionSeed(roomID, playerID, q.ID))
	options := make([]domain.Option, len(q.Options))
	for i, src := range perm {
		options[i] = q.Options[src]
	}

	_, answered, err := s.rooms.PlayerAnswer(ctx, roomID, q.ID, playerID)
	if err != nil {
		return QuestionView{}, err
	}

	return QuestionView{
		Index:             state.QuestionIndex,
		Total:             len(quiz.Questions),
		QuestionID:        q.ID,
		Prompt:            q.Prompt,
		Options:           options,
		QuestionStartedAt: state.QuestionStartedAt,
		TimePerQuestionMs: state.TimePerQuestionMs,
		Answered:          answered,
	}, nil
}

// SubmitAnswer validates a submission against the server clock, scores it,
// and commits record, score and streak as one atomic unit. Every failing
// check happens before any mutation.
func (s *GameService) SubmitAnswer(ctx context.Context, roomID, playerID, questionID string, chosen int) (domain.AnswerResult, error) {
	allowed, err := s.realtime.AllowSubmission(ctx, roomID, playerID, s.policy.RateLimit, s.policy.RateWindow)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !allowed {
		return domain.AnswerResult{}, domain.ErrRateLimited
	}

	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if room.Status != domain.StatusPlaying {
		return domain.AnswerResult{}, domain.ErrGameNotStarted
	}
	if _, err := s.rooms.Player(ctx, roomID, playerID); err != nil {
		return domain.AnswerResult{}, err
	}

	state, ok, err := s.realtime.GameState(ctx, roomID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !ok {
		return domain.AnswerResult{}, domain.ErrGameNotStarted
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	question, idx, err := findQuestion(quiz, questionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	// Submissions for anything but the current question are by definition
	// outside their timing window.
	if idx != state.QuestionIndex {
		return domain.AnswerResult{}, domain.ErrDeadlineExceeded
	}

	now := s.now()
	elapsed := now.Sub(state.QuestionStartedAt)
	limit := time.Duration(state.TimePerQuestionMs) * time.Millisecond
	if elapsed > limit+s.policy.GracePeriod {
		return domain.AnswerResult{}, domain.ErrDeadlineExceeded
	}

	if chosen < 0 || chosen >= len(question.Options) {
		return domain.AnswerResult{}, fmt.Errorf("%w: option %d out of range", domain.ErrInvalidArgument, chosen)
	}

	// The client answered within its own shuffled view; map the choice back
	// to the canonical option order before comparing.
	perm := OptionPermutation(len(question.Options), OptionSeed(roomID, playerID, question.ID))
	canonical := perm[chosen]
	isCorrect := canonical == question.CorrectIndex

	rec := domain.AnswerRecord{
		RoomID:           roomID,
		QuestionID:       question.ID,
		PlayerID:         playerID,
		ChosenOption:     chosen,
		CanonicalOption:  canonical,
		IsCorrect:        isCorrect,
		PointsAwarded:    Score(isCorrect, elapsed, limit),
		TimeToAnswerMs:   elapsed.Milliseconds(),
		ServerReceivedAt: now,
	}
	player, err := s.rooms.RecordAnswer(ctx, rec)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	s.publishLeaderboard(ctx, roomID)

	result := domain.AnswerResult{
		QuestionID:    question.ID,
		IsCorrect:     isCorrect,
		PointsAwarded: rec.PointsAwarded,
		CorrectOption: -1,
		TotalScore:    player.Score,
		Streak:        player.Streak,
	}
	if room.Settings.ShowCorrectAnswers {
		result.CorrectOption = displayedIndex(perm, question.CorrectIndex)
		result.Explanation = question.Explanation
	}

	if s.policy.AutoAdvance {
		if err := s.maybeAdvance(ctx, room, quiz, state); err != nil {
			log.Printf("auto-advance failed for room %s: %v", roomID, err)
		}
	}
	return result, nil
}

// NextQuestion advances the room to the next question, or finishes the game
// after the last one. Host-only.
func (s *GameService) NextQuestion(ctx context.Context, roomID, requesterID string) error {
	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != requesterID {
		return domain.ErrNotHost
	}
	if room.Status != domain.StatusPlaying {
		return domain.ErrGameNotStarted
	}

	state, ok, err := s.realtime.GameState(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrGameNotStarted
	}
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return err
	}
	return s.advance(ctx, room, quiz, state)
}

// Leaderboard returns the current ranked scoreboard.
func (s *GameService) Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, error) {
	players, err := s.rooms.Players(ctx, roomID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return Rank(roomID, players, s.now()), nil
}

// maybeAdvance moves on early once every online player has a validated
// answer for the current question.
func (s *GameService) maybeAdvance(ctx context.Context, room domain.Room, quiz domain.Quiz, state domain.GameState) error {
	online, err := s.realtime.OnlinePlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	if len(online) == 0 {
		return nil
	}
	answers, err := s.rooms.AnswersForQuestion(ctx, room.ID, state.QuestionID)
	if err != nil {
		return err
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answered[a.PlayerID] = struct{}{}
	}
	for _, id := range online {
		if _, ok := answered[id]; !ok {
			return nil
		}
	}
	return s.advance(ctx, room, quiz, state)
}

func (s *GameService) advance(ctx context.Context, room domain.Room, quiz domain.Quiz, state domain.GameState) error {
	next := state.QuestionIndex + 1
	now := s.now()

	if next >= len(quiz.Questions) {
		if err := s.rooms.UpdateStatus(ctx, room.ID, domain.StatusPlaying, domain.StatusFinished, now); err != nil {
			return err
		}
		state.Finished = true
		if err := s.realtime.SetGameState(ctx, room.ID, state); err != nil {
			return err
		}
		final, err := s.Leaderboard(ctx, room.ID)
		if err != nil {
			return err
		}
		_ = s.realtime.SetLeaderboard(ctx, room.ID, final)
		if ev, err := NewEvent(EventFinished, room.ID, final); err == nil {
			_ = s.realtime.Publish(ctx, room.ID, ev)
		}
		log.Printf("room %s finished after %d questions", room.ID, len(quiz.Questions))
		return nil
	}

	state = domain.GameState{
		RoomID:            room.ID,
		QuestionIndex:     next,
		QuestionID:        quiz.Questions[next].ID,
		QuestionStartedAt: now,
		TimePerQuestionMs: state.TimePerQuestionMs,
	}
	if err := s.realtime.SetGameState(ctx, room.ID, state); err != nil {
		return err
	}
	if ev, err := NewEvent(EventQuestion, room.ID, state); err == nil {
		_ = s.realtime.Publish(ctx, room.ID, ev)
	}
	return nil
}

func (s *GameService) publishLeaderboard(ctx context.Context, roomID string) {
	lb, err := s.Leaderboard(ctx, roomID)
	if err != nil {
		log.Printf("leaderboard recompute failed for room %s: %v", roomID, err)
		return
	}
	_ = s.realtime.SetLeaderboard(ctx, roomID, lb)
	if ev, err := NewEvent(EventLeaderboard, roomID, lb); err == nil {
		_ = s.realtime.Publish(ctx, roomID, ev)
	}
}

// Score awards basePoints plus a speed bonus proportional to the remaining
// time. Incorrect answers always score zero.
func Score(correct bool, elapsed, limit time.Duration) int {
	if !correct {
		return 0
	}
	remaining := 1 - float64(elapsed)/float64(limit)
	if remaining < 0 {
		remaining = 0
	}
	return basePoints + int(maxBonus*remaining)
}

func findQuestion(quiz domain.Quiz, questionID string) (domain.Question, int, error) {
	for i, q := range quiz.Questions {
		if q.ID == questionID {
			return q, i, nil
		}
	}
	return domain.Question{}, 0, domain.ErrQuestionNotFound
}
