package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func TestScore(t *testing.T) {
	limit := 30 * time.Second
	cases := []struct {
		name    string
		correct bool
		elapsed time.Duration
		want    int
	}{
		{"instant answer gets full bonus", true, 0, 1500},
		{"five seconds in", true, 5 * time.Second, 1416},
		{"at the limit", true, limit, 1000},
		{"inside grace period", true, 31 * time.Second, 1000},
		{"wrong answer", false, 0, 0},
	}
	for _, tc := range cases {
		if got := app.Score(tc.correct, tc.elapsed, limit); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func startedRoom(t *testing.T, env *testEnv, settings domain.RoomSettings) domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := env.roomSvc.CreateRoom(ctx, identity("u1", "Alice"), "Game", "quiz-1", "", settings)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, _, err := env.roomSvc.JoinRoom(ctx, room.ID, identity("u2", "Bob"), ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.roomSvc.StartGame(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return room
}

func TestSubmitAnswerScoresAndRanks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	env.clock.Advance(5 * time.Second)
	result, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.IsCorrect {
		t.Fatalf("expected correct answer, got %+v", result)
	}
	if result.PointsAwarded != 1416 {
		t.Fatalf("expected 1416 points at 5s of 30s, got %d", result.PointsAwarded)
	}
	if result.TotalScore != 1416 || result.Streak != 1 {
		t.Fatalf("expected total 1416 streak 1, got %+v", result)
	}
	// Correct option stays hidden unless the room opts in.
	if result.CorrectOption != -1 {
		t.Fatalf("expected hidden correct option, got %d", result.CorrectOption)
	}

	lb, err := env.gameSvc.Leaderboard(ctx, room.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.Entries[0].PlayerID != "u2" || lb.Entries[0].Score != 1416 {
		t.Fatalf("expected u2 leading with 1416, got %+v", lb.Entries)
	}
}

func TestSubmitAnswerRevealsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{ShowCorrectAnswers: true})
	q := testQuiz().Questions[0]

	choice := wrongChoice(room.ID, "u2", q)
	result, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", choice)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.IsCorrect || result.PointsAwarded != 0 {
		t.Fatalf("expected incorrect zero-point answer, got %+v", result)
	}
	if result.CorrectOption != correctChoice(room.ID, "u2", q) {
		t.Fatalf("revealed option %d is not the player's view of the correct answer", result.CorrectOption)
	}
}

func TestSubmitAnswerDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	env.clock.Advance(3 * time.Second)
	first, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Step past the rate-limit window so the duplicate check is what fires.
	env.clock.Advance(2 * time.Second)
	_, err = env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", wrongChoice(room.ID, "u2", q))
	if !errors.Is(err, domain.ErrAnswerExists) {
		t.Fatalf("expected ErrAnswerExists, got %v", err)
	}

	player, err := env.rooms.Player(ctx, room.ID, "u2")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if player.Score != first.PointsAwarded || player.AnswerCount != 1 {
		t.Fatalf("duplicate mutated stats: %+v", player)
	}
}

func TestSubmitAnswerRateLimited(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	if _, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for rapid resubmit, got %v", err)
	}
}

func TestSubmitAnswerDeadline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	// 30s limit + 2s grace: 33s is out.
	env.clock.Advance(33 * time.Second)
	_, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q))
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestSubmitAnswerWithinGrace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	env.clock.Advance(31 * time.Second)
	result, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q))
	if err != nil {
		t.Fatalf("expected grace period to admit the answer: %v", err)
	}
	if result.PointsAwarded != 1000 {
		t.Fatalf("expected base points only past the limit, got %d", result.PointsAwarded)
	}
}

func TestSubmitAnswerForStaleQuestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})

	_, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q2", 0)
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded for non-current question, got %v", err)
	}
}

func TestStreakResetsOnWrongAnswer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})
	quiz := testQuiz()

	env.clock.Advance(2 * time.Second)
	result, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", quiz.Questions[0]))
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if result.Streak != 1 {
		t.Fatalf("expected streak 1, got %d", result.Streak)
	}

	if err := env.gameSvc.NextQuestion(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("next: %v", err)
	}

	env.clock.Advance(2 * time.Second)
	result, err = env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q2", wrongChoice(room.ID, "u2", quiz.Questions[1]))
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if result.Streak != 0 {
		t.Fatalf("expected streak reset on wrong answer, got %d", result.Streak)
	}

	player, _ := env.rooms.Player(ctx, room.ID, "u2")
	if player.CorrectCount != 1 || player.AnswerCount != 2 {
		t.Fatalf("expected 1 correct of 2, got %+v", player)
	}
}

func TestNextQuestionIsHostOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})

	if err := env.gameSvc.NextQuestion(ctx, room.ID, "u2"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestGameFinishesAfterLastQuestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})

	if err := env.gameSvc.NextQuestion(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("advance to q2: %v", err)
	}
	if err := env.gameSvc.NextQuestion(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("advance past q2: %v", err)
	}

	updated, err := env.roomSvc.Room(ctx, room.ID)
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if updated.Status != domain.StatusFinished {
		t.Fatalf("expected finished room, got %s", updated.Status)
	}

	state, ok, err := env.realtime.GameState(ctx, room.ID)
	if err != nil || !ok {
		t.Fatalf("game state: ok=%v err=%v", ok, err)
	}
	if !state.Finished {
		t.Fatalf("expected finished game state, got %+v", state)
	}

	// A finished game accepts no further submissions.
	_, err = env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q2", 0)
	if !errors.Is(err, domain.ErrGameNotStarted) {
		t.Fatalf("expected ErrGameNotStarted after finish, got %v", err)
	}
}

func TestAutoAdvanceWhenAllOnlineAnswered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{AutoAdvance: true})
	room := startedRoom(t, env, domain.RoomSettings{})
	q := testQuiz().Questions[0]

	// Both players hold presence leases.
	if err := env.realtime.TouchPresence(ctx, room.ID, "u1", time.Minute); err != nil {
		t.Fatalf("touch u1: %v", err)
	}
	if err := env.realtime.TouchPresence(ctx, room.ID, "u2", time.Minute); err != nil {
		t.Fatalf("touch u2: %v", err)
	}

	env.clock.Advance(2 * time.Second)
	if _, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u1", "q1", correctChoice(room.ID, "u1", q)); err != nil {
		t.Fatalf("submit u1: %v", err)
	}
	state, _, err := env.realtime.GameState(ctx, room.ID)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if state.QuestionIndex != 0 {
		t.Fatalf("should not advance with one answer outstanding, at index %d", state.QuestionIndex)
	}

	if _, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", "q1", correctChoice(room.ID, "u2", q)); err != nil {
		t.Fatalf("submit u2: %v", err)
	}
	state, _, err = env.realtime.GameState(ctx, room.ID)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if state.QuestionIndex != 1 || state.QuestionID != "q2" {
		t.Fatalf("expected auto-advance to q2, got %+v", state)
	}
}

func TestPlayerQuestionViewIsUnique(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{})
	room := startedRoom(t, env, domain.RoomSettings{})

	viewA, err := env.gameSvc.PlayerQuestion(ctx, room.ID, "u1")
	if err != nil {
		t.Fatalf("view u1: %v", err)
	}
	viewB, err := env.gameSvc.PlayerQuestion(ctx, room.ID, "u2")
	if err != nil {
		t.Fatalf("view u2: %v", err)
	}
	if len(viewA.Options) != 4 || len(viewB.Options) != 4 {
		t.Fatalf("expected 4 options each, got %d and %d", len(viewA.Options), len(viewB.Options))
	}
	if viewA.Answered || viewB.Answered {
		t.Fatalf("fresh question should not be marked answered")
	}

	// The same player always sees the same order.
	viewA2, err := env.gameSvc.PlayerQuestion(ctx, room.ID, "u1")
	if err != nil {
		t.Fatalf("view u1 again: %v", err)
	}
	for i := range viewA.Options {
		if viewA.Options[i].ID != viewA2.Options[i].ID {
			t.Fatalf("option order changed between views: %+v vs %+v", viewA.Options, viewA2.Options)
		}
	}

	env.clock.Advance(time.Second)
	q := testQuiz().Questions[0]
	if _, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u1", "q1", correctChoice(room.ID, "u1", q)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	answered, err := env.gameSvc.PlayerQuestion(ctx, room.ID, "u1")
	if err != nil {
		t.Fatalf("view after answer: %v", err)
	}
	if !answered.Answered {
		t.Fatalf("expected answered flag after submission")
	}
}

func TestConcurrentDuplicateSubmissionsAcceptOne(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.RoomPolicy{}, app.GamePolicy{RateLimit: 64})
	room := startedRoom(t, env, domain.RoomSettings{})
	env.clock.Advance(5 * time.Second)

	q := testQuiz().Questions[0]
	choice := correctChoice(room.ID, "u2", q)

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.gameSvc.SubmitAnswer(ctx, room.ID, "u2", q.ID, choice)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	accepted, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrAnswerExists):
			duplicates++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if accepted != 1 || duplicates != workers-1 {
		t.Fatalf("expected exactly one acceptance, got accepted=%d duplicates=%d", accepted, duplicates)
	}

	player, err := env.rooms.Player(ctx, room.ID, "u2")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if player.AnswerCount != 1 || player.CorrectCount != 1 {
		t.Fatalf("expected a single recorded answer, got count=%d correct=%d", player.AnswerCount, player.CorrectCount)
	}
}
