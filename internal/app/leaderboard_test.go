package app_test

import (
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func TestRankOrdersByScore(t *testing.T) {
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	players := []domain.Player{
		{ID: "u1", DisplayName: "Alice", Score: 1000, AnswerCount: 1, TotalTimeMs: 4000, CorrectCount: 1},
		{ID: "u2", DisplayName: "Bob", Score: 2500, AnswerCount: 2, TotalTimeMs: 9000, CorrectCount: 2},
		{ID: "u3", DisplayName: "Cara", Score: 0},
	}

	lb := app.Rank("room-1", players, now)
	if len(lb.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb.Entries))
	}
	if lb.Entries[0].PlayerID != "u2" || lb.Entries[0].Rank != 1 {
		t.Fatalf("expected Bob first, got %+v", lb.Entries[0])
	}
	if lb.Entries[2].PlayerID != "u3" || lb.Entries[2].Rank != 3 {
		t.Fatalf("expected Cara last, got %+v", lb.Entries[2])
	}
	if !lb.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt %v, got %v", now, lb.UpdatedAt)
	}
}

func TestRankBreaksTiesByCorrectThenSpeed(t *testing.T) {
	now := time.Now()
	players := []domain.Player{
		// Same score; u1 has fewer correct answers.
		{ID: "u1", DisplayName: "Alice", Score: 2000, CorrectCount: 1, AnswerCount: 2, TotalTimeMs: 2000},
		{ID: "u2", DisplayName: "Bob", Score: 2000, CorrectCount: 2, AnswerCount: 2, TotalTimeMs: 8000},
		// Same score and correct count as Bob but slower on average.
		{ID: "u3", DisplayName: "Cara", Score: 2000, CorrectCount: 2, AnswerCount: 2, TotalTimeMs: 12000},
	}

	lb := app.Rank("room-1", players, now)
	order := []string{lb.Entries[0].PlayerID, lb.Entries[1].PlayerID, lb.Entries[2].PlayerID}
	want := []string{"u2", "u3", "u1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRankTreatsUnansweredAsSlowest(t *testing.T) {
	now := time.Now()
	players := []domain.Player{
		{ID: "u1", DisplayName: "Alice", Score: 0, AnswerCount: 1, TotalTimeMs: 29000},
		{ID: "u2", DisplayName: "Bob", Score: 0},
	}

	lb := app.Rank("room-1", players, now)
	if lb.Entries[0].PlayerID != "u1" {
		t.Fatalf("expected answered player to rank above silent one, got %+v", lb.Entries)
	}
}
