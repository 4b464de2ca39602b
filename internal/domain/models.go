package domain

import "time"

// RoomStatus is the lifecycle phase of a room. Transitions are monotonic:
// waiting -> playing -> finished -> archived.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
	StatusArchived RoomStatus = "archived"
)

var statusRank = map[RoomStatus]int{
	StatusWaiting:  0,
	StatusPlaying:  1,
	StatusFinished: 2,
	StatusArchived: 3,
}

// CanTransition reports whether moving from s to next is a single forward step.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// RoomSettings holds host-chosen room configuration.
type RoomSettings struct {
	MaxPlayers         int           `json:"maxPlayers"`
	TimePerQuestion    time.Duration `json:"timePerQuestion"`
	Private            bool          `json:"private"`
	AllowLateJoin      bool          `json:"allowLateJoin"`
	ShowCorrectAnswers bool          `json:"showCorrectAnswers"`
}

// Room is the authoritative record of a multiplayer session.
type Room struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	HostID       string       `json:"hostId"`
	QuizID       string       `json:"quizId"`
	PasswordHash string       `json:"-"`
	PasswordSalt string       `json:"-"`
	Settings     RoomSettings `json:"settings"`
	Status       RoomStatus   `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
	LastEmptyAt  *time.Time   `json:"-"`
}

// Player is a roster entry owned by a room.
type Player struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	IsReady      bool      `json:"isReady"`
	Score        int       `json:"score"`
	Streak       int       `json:"streak"`
	CorrectCount int       `json:"correctCount"`
	AnswerCount  int       `json:"answerCount"`
	TotalTimeMs  int64     `json:"totalTimeMs"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Option is one possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question belongs to a quiz. CorrectIndex is never sent to a client
// before that client's own answer has been validated.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []Option `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
	Order        int      `json:"order"`
}

// Quiz is read-only content owned by the authoring subsystem.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// AnswerRecord is the validated result of one submission. At most one
// record exists per (room, question, player) triple.
type AnswerRecord struct {
	RoomID           string    `json:"roomId"`
	QuestionID       string    `json:"questionId"`
	PlayerID         string    `json:"playerId"`
	ChosenOption     int       `json:"chosenOption"`
	CanonicalOption  int       `json:"-"`
	IsCorrect        bool      `json:"isCorrect"`
	PointsAwarded    int       `json:"pointsAwarded"`
	TimeToAnswerMs   int64     `json:"timeToAnswerMs"`
	ServerReceivedAt time.Time `json:"serverReceivedAt"`
}

// AnswerResult is what the submitting player gets back.
type AnswerResult struct {
	QuestionID    string `json:"questionId"`
	IsCorrect     bool   `json:"isCorrect"`
	PointsAwarded int    `json:"pointsAwarded"`
	CorrectOption int    `json:"correctOption"`
	Explanation   string `json:"explanation,omitempty"`
	TotalScore    int    `json:"totalScore"`
	Streak        int    `json:"streak"`
}

// GameState is the ephemeral per-room question clock. QuestionStartedAt is
// the server timestamp deadlines are enforced against; client countdowns
// are presentation only.
type GameState struct {
	RoomID            string    `json:"roomId"`
	QuestionIndex     int       `json:"questionIndex"`
	QuestionID        string    `json:"questionId"`
	QuestionStartedAt time.Time `json:"questionStartedAt"`
	TimePerQuestionMs int64     `json:"timePerQuestionMs"`
	Finished          bool      `json:"finished"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	PlayerID     string `json:"playerId"`
	DisplayName  string `json:"displayName"`
	Score        int    `json:"score"`
	Streak       int    `json:"streak"`
	CorrectCount int    `json:"correctCount"`
	AvgTimeMs    int64  `json:"avgTimeMs"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomID    string             `json:"roomId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ChatMessage is passed through to room subscribers without interpretation.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	System     bool      `json:"system"`
	SentAt     time.Time `json:"sentAt"`
}

// Identity is the authenticated caller as supplied by the auth subsystem.
// The coordinator trusts it and performs no authentication of its own.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
