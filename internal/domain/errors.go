package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no room matches the given id or code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrPlayerNotFound is returned when a user acts on a room they never joined.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrEmptyQuiz rejects room creation for quizzes with zero questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")

	// ErrNotHost guards host-only operations (start, kick, advance).
	ErrNotHost = errors.New("only the host may perform this action")
	// ErrWrongPassword is returned on a password mismatch for a private room.
	ErrWrongPassword = errors.New("wrong room password")

	// ErrRoomFull is returned when the roster is at MaxPlayers.
	ErrRoomFull = errors.New("room is full")
	// ErrRateLimited rejects submissions above the sliding-window budget.
	ErrRateLimited = errors.New("too many submissions, slow down")

	// ErrAnswerExists enforces the one-answer-per-question guarantee.
	ErrAnswerExists = errors.New("answer already submitted")
	// ErrDeadlineExceeded is returned for answers past the question window.
	ErrDeadlineExceeded = errors.New("answer submitted too late")

	// ErrLateJoinDisabled is returned when joining a playing room that
	// forbids late joins.
	ErrLateJoinDisabled = errors.New("game in progress, late join disabled")
	// ErrRoomClosed is returned when joining a finished or archived room.
	ErrRoomClosed = errors.New("room is closed")
	// ErrNotEnoughPlayers is returned when start is called below the minimum.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrPlayersNotReady is returned when start requires every player ready.
	ErrPlayersNotReady = errors.New("not all players are ready")
	// ErrGameNotStarted guards in-game operations before start.
	ErrGameNotStarted = errors.New("game has not started")
	// ErrInvalidTransition rejects non-monotonic room status changes.
	ErrInvalidTransition = errors.New("invalid room status transition")

	// ErrInvalidArgument covers malformed payloads (bad option index, empty name).
	ErrInvalidArgument = errors.New("invalid argument")
)
