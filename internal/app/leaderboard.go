package app

import (
	"math"
	"sort"
	"time"

	"quizroom-service/internal/domain"
)

// Rank computes the ordered scoreboard for a room. It is a pure function of
// the roster: score descending, then correct answers descending, then
// average time-to-answer ascending. Remaining ties fall back to join order
// and name so the output is deterministic.
func Rank(roomID string, players []domain.Player, now time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:     p.ID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			Streak:       p.Streak,
			CorrectCount: p.CorrectCount,
			AvgTimeMs:    avgTimeMs(p),
		})
	}

	byID := make(map[string]domain.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		if a.AvgTimeMs != b.AvgTimeMs {
			return a.AvgTimeMs < b.AvgTimeMs
		}
		pa, pb := byID[a.PlayerID], byID[b.PlayerID]
		if !pa.JoinedAt.Equal(pb.JoinedAt) {
			return pa.JoinedAt.Before(pb.JoinedAt)
		}
		return a.DisplayName < b.DisplayName
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return domain.Leaderboard{RoomID: roomID, Entries: entries, UpdatedAt: now}
}

// avgTimeMs treats a player with no answers as slowest so that answered
// players win average-time ties.
func avgTimeMs(p domain.Player) int64 {
	if p.AnswerCount == 0 {
		return math.MaxInt64
	}
	return p.TotalTimeMs / int64(p.AnswerCount)
}
