package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"quizroom-service/internal/domain"
)

// RoomStore implements app.RoomStore on Postgres via bun. The two guarantees
// the coordinator leans on (roster capacity and one-answer-per-question) are
// enforced here with row locks and the primary key, not in Go.
type RoomStore struct {
	db *bun.DB
}

func NewRoomStore(db *bun.DB) *RoomStore {
	return &RoomStore{db: db}
}

type roomRow struct {
	bun.BaseModel `bun:"table:rooms"`

	ID           string     `bun:"id,pk"`
	Code         string     `bun:"code"`
	Name         string     `bun:"name"`
	HostID       string     `bun:"host_id"`
	QuizID       string     `bun:"quiz_id"`
	PasswordHash string     `bun:"password_hash"`
	PasswordSalt string     `bun:"password_salt"`
	Settings     []byte     `bun:"settings,type:jsonb"`
	Status       string     `bun:"status"`
	CreatedAt    time.Time  `bun:"created_at"`
	StartedAt    *time.Time `bun:"started_at"`
	FinishedAt   *time.Time `bun:"finished_at"`
	LastEmptyAt  *time.Time `bun:"last_empty_at"`
}

type playerRow struct {
	bun.BaseModel `bun:"table:room_players"`

	RoomID       string    `bun:"room_id,pk"`
	ID           string    `bun:"id,pk"`
	DisplayName  string    `bun:"display_name"`
	AvatarURL    string    `bun:"avatar_url"`
	IsOnline     bool      `bun:"is_online"`
	IsReady      bool      `bun:"is_ready"`
	Score        int       `bun:"score"`
	Streak       int       `bun:"streak"`
	CorrectCount int       `bun:"correct_count"`
	AnswerCount  int       `bun:"answer_count"`
	TotalTimeMs  int64     `bun:"total_time_ms"`
	JoinedAt     time.Time `bun:"joined_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:room_answers"`

	RoomID           string    `bun:"room_id,pk"`
	QuestionID       string    `bun:"question_id,pk"`
	PlayerID         string    `bun:"player_id,pk"`
	ChosenOption     int       `bun:"chosen_option"`
	CanonicalOption  int       `bun:"canonical_option"`
	IsCorrect        bool      `bun:"is_correct"`
	PointsAwarded    int       `bun:"points_awarded"`
	TimeToAnswerMs   int64     `bun:"time_to_answer_ms"`
	ServerReceivedAt time.Time `bun:"server_received_at"`
}

type archivedRoomRow struct {
	bun.BaseModel `bun:"table:archived_rooms"`

	ID         string    `bun:"id,pk"`
	Data       []byte    `bun:"data,type:jsonb"`
	ArchivedAt time.Time `bun:"archived_at"`
}

func (s *RoomStore) CreateRoom(ctx context.Context, room domain.Room, host domain.Player) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := toRoomRow(room)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		hostRow := toPlayerRow(host)
		if _, err := tx.NewInsert().Model(&hostRow).Exec(ctx); err != nil {
			return fmt.Errorf("insert host player: %w", err)
		}
		return nil
	})
}

func (s *RoomStore) RoomByID(ctx context.Context, roomID string) (domain.Room, error) {
	var row roomRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", roomID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("select room: %w", err)
	}
	return fromRoomRow(row)
}

func (s *RoomStore) RoomByCode(ctx context.Context, code string) (domain.Room, error) {
	var row roomRow
	err := s.db.NewSelect().Model(&row).Where("code = ?", strings.ToUpper(code)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("select room by code: %w", err)
	}
	return fromRoomRow(row)
}

func (s *RoomStore) UpdateStatus(ctx context.Context, roomID string, from, to domain.RoomStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	q := s.db.NewUpdate().Model((*roomRow)(nil)).
		Set("status = ?", string(to)).
		Where("id = ?", roomID).
		Where("status = ?", string(from))
	switch to {
	case domain.StatusPlaying:
		q = q.Set("started_at = ?", at)
	case domain.StatusFinished:
		q = q.Set("finished_at = ?", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.RoomByID(ctx, roomID); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *RoomStore) TransferHost(ctx context.Context, roomID, newHostID string) error {
	res, err := s.db.NewUpdate().Model((*roomRow)(nil)).
		Set("host_id = ?", newHostID).
		Where("id = ?", roomID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("transfer host: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// AddPlayer serializes roster growth with a row lock on the room so the
// capacity check and the insert act as one atomic unit.
func (s *RoomStore) AddPlayer(ctx context.Context, player domain.Player, maxPlayers int) (domain.Player, error) {
	var out domain.Player
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var room roomRow
		err := tx.NewSelect().Model(&room).Where("id = ?", player.RoomID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}

		var existing playerRow
		err = tx.NewSelect().Model(&existing).
			Where("room_id = ?", player.RoomID).
			Where("id = ?", player.ID).
			Scan(ctx)
		if err == nil {
			out = fromPlayerRow(existing)
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select player: %w", err)
		}

		count, err := tx.NewSelect().Model((*playerRow)(nil)).
			Where("room_id = ?", player.RoomID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if count >= maxPlayers {
			return domain.ErrRoomFull
		}

		row := toPlayerRow(player)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert player: %w", err)
		}
		out = player
		return nil
	})
	if err != nil {
		return domain.Player{}, err
	}
	return out, nil
}

func (s *RoomStore) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	_, err := s.db.NewDelete().Model((*playerRow)(nil)).
		Where("room_id = ?", roomID).
		Where("id = ?", playerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return nil
}

func (s *RoomStore) Player(ctx context.Context, roomID, playerID string) (domain.Player, error) {
	var row playerRow
	err := s.db.NewSelect().Model(&row).
		Where("room_id = ?", roomID).
		Where("id = ?", playerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("select player: %w", err)
	}
	return fromPlayerRow(row), nil
}

func (s *RoomStore) Players(ctx context.Context, roomID string) ([]domain.Player, error) {
	var rows []playerRow
	err := s.db.NewSelect().Model(&rows).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, fromPlayerRow(row))
	}
	return players, nil
}

func (s *RoomStore) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	return s.setPlayerFlag(ctx, roomID, playerID, "is_ready", ready)
}

func (s *RoomStore) SetOnline(ctx context.Context, roomID, playerID string, online bool) error {
	return s.setPlayerFlag(ctx, roomID, playerID, "is_online", online)
}

func (s *RoomStore) setPlayerFlag(ctx context.Context, roomID, playerID, column string, value bool) error {
	res, err := s.db.NewUpdate().Model((*playerRow)(nil)).
		Set(column+" = ?", value).
		Where("room_id = ?", roomID).
		Where("id = ?", playerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// RecordAnswer is the single most important write in the system: the answer
// record, the score increment and the streak update commit as one
// transaction. The answers table's primary key does the duplicate
// detection, so concurrent submissions resolve to exactly one acceptance.
func (s *RoomStore) RecordAnswer(ctx context.Context, answer domain.AnswerRecord) (domain.Player, error) {
	var out domain.Player
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := toAnswerRow(answer)
		res, err := tx.NewInsert().Model(&row).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return domain.ErrAnswerExists
		}

		var updated playerRow
		_, err = tx.NewUpdate().Model(&updated).
			Set("score = score + ?", answer.PointsAwarded).
			Set("answer_count = answer_count + 1").
			Set("total_time_ms = total_time_ms + ?", answer.TimeToAnswerMs).
			Set("correct_count = correct_count + ?", boolToInt(answer.IsCorrect)).
			Set("streak = CASE WHEN ? THEN streak + 1 ELSE 0 END", answer.IsCorrect).
			Where("room_id = ?", answer.RoomID).
			Where("id = ?", answer.PlayerID).
			Returning("*").
			Exec(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("apply score: %w", err)
		}
		out = fromPlayerRow(updated)
		return nil
	})
	if err != nil {
		return domain.Player{}, err
	}
	return out, nil
}

func (s *RoomStore) PlayerAnswer(ctx context.Context, roomID, questionID, playerID string) (domain.AnswerRecord, bool, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("room_id = ?", roomID).
		Where("question_id = ?", questionID).
		Where("player_id = ?", playerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnswerRecord{}, false, nil
	}
	if err != nil {
		return domain.AnswerRecord{}, false, fmt.Errorf("select answer: %w", err)
	}
	return fromAnswerRow(row), true, nil
}

func (s *RoomStore) AnswersForQuestion(ctx context.Context, roomID, questionID string) ([]domain.AnswerRecord, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("room_id = ?", roomID).
		Where("question_id = ?", questionID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	answers := make([]domain.AnswerRecord, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, fromAnswerRow(row))
	}
	return answers, nil
}

func (s *RoomStore) SetLastEmptyAt(ctx context.Context, roomID string, at time.Time) error {
	// Written once per empty transition: the IS NULL guard keeps later
	// sweeps from pushing the stamp forward.
	_, err := s.db.NewUpdate().Model((*roomRow)(nil)).
		Set("last_empty_at = ?", at).
		Where("id = ?", roomID).
		Where("last_empty_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set last_empty_at: %w", err)
	}
	return nil
}

func (s *RoomStore) ClearLastEmptyAt(ctx context.Context, roomID string) error {
	_, err := s.db.NewUpdate().Model((*roomRow)(nil)).
		Set("last_empty_at = NULL").
		Where("id = ?", roomID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear last_empty_at: %w", err)
	}
	return nil
}

func (s *RoomStore) ActiveRooms(ctx context.Context) ([]domain.Room, error) {
	var rows []roomRow
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	return fromRoomRows(rows)
}

func (s *RoomStore) EmptyRoomsBefore(ctx context.Context, cutoff time.Time) ([]domain.Room, error) {
	var rows []roomRow
	err := s.db.NewSelect().Model(&rows).
		Where("last_empty_at IS NOT NULL").
		Where("last_empty_at <= ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select empty rooms: %w", err)
	}
	return fromRoomRows(rows)
}

func (s *RoomStore) ArchiveRoom(ctx context.Context, room domain.Room) error {
	room.Status = domain.StatusArchived
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	row := archivedRoomRow{ID: room.ID, Data: data, ArchivedAt: time.Now()}
	_, err = s.db.NewInsert().Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	return nil
}

// DeleteRoom cascade-deletes players and answers through the FK constraints.
// Deleting an already-deleted room affects zero rows and is not an error.
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.db.NewDelete().Model((*roomRow)(nil)).
		Where("id = ?", roomID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func toRoomRow(room domain.Room) (roomRow, error) {
	settings, err := json.Marshal(room.Settings)
	if err != nil {
		return roomRow{}, err
	}
	return roomRow{
		ID:           room.ID,
		Code:         room.Code,
		Name:         room.Name,
		HostID:       room.HostID,
		QuizID:       room.QuizID,
		PasswordHash: room.PasswordHash,
		PasswordSalt: room.PasswordSalt,
		Settings:     settings,
		Status:       string(room.Status),
		CreatedAt:    room.CreatedAt,
		StartedAt:    room.StartedAt,
		FinishedAt:   room.FinishedAt,
		LastEmptyAt:  room.LastEmptyAt,
	}, nil
}

func fromRoomRow(row roomRow) (domain.Room, error) {
	var settings domain.RoomSettings
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &settings); err != nil {
			return domain.Room{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return domain.Room{
		ID:           row.ID,
		Code:         row.Code,
		Name:         row.Name,
		HostID:       row.HostID,
		QuizID:       row.QuizID,
		PasswordHash: row.PasswordHash,
		PasswordSalt: row.PasswordSalt,
		Settings:     settings,
		Status:       domain.RoomStatus(row.Status),
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
		LastEmptyAt:  row.LastEmptyAt,
	}, nil
}

func fromRoomRows(rows []roomRow) ([]domain.Room, error) {
	rooms := make([]domain.Room, 0, len(rows))
	for _, row := range rows {
		room, err := fromRoomRow(row)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func toPlayerRow(p domain.Player) playerRow {
	return playerRow{
		RoomID:       p.RoomID,
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		AvatarURL:    p.AvatarURL,
		IsOnline:     p.IsOnline,
		IsReady:      p.IsReady,
		Score:        p.Score,
		Streak:       p.Streak,
		CorrectCount: p.CorrectCount,
		AnswerCount:  p.AnswerCount,
		TotalTimeMs:  p.TotalTimeMs,
		JoinedAt:     p.JoinedAt,
	}
}

func fromPlayerRow(row playerRow) domain.Player {
	return domain.Player{
		ID:           row.ID,
		RoomID:       row.RoomID,
		DisplayName:  row.DisplayName,
		AvatarURL:    row.AvatarURL,
		IsOnline:     row.IsOnline,
		IsReady:      row.IsReady,
		Score:        row.Score,
		Streak:       row.Streak,
		CorrectCount: row.CorrectCount,
		AnswerCount:  row.AnswerCount,
		TotalTimeMs:  row.TotalTimeMs,
		JoinedAt:     row.JoinedAt,
	}
}

func toAnswerRow(a domain.AnswerRecord) answerRow {
	return answerRow{
		RoomID:           a.RoomID,
		QuestionID:       a.QuestionID,
		PlayerID:         a.PlayerID,
		ChosenOption:     a.ChosenOption,
		CanonicalOption:  a.CanonicalOption,
		IsCorrect:        a.IsCorrect,
		PointsAwarded:    a.PointsAwarded,
		TimeToAnswerMs:   a.TimeToAnswerMs,
		ServerReceivedAt: a.ServerReceivedAt,
	}
}

func fromAnswerRow(row answerRow) domain.AnswerRecord {
	return domain.AnswerRecord{
		RoomID:           row.RoomID,
		QuestionID:       row.QuestionID,
		PlayerID:         row.PlayerID,
		ChosenOption:     row.ChosenOption,
		CanonicalOption:  row.CanonicalOption,
		IsCorrect:        row.IsCorrect,
		PointsAwarded:    row.PointsAwarded,
		TimeToAnswerMs:   row.TimeToAnswerMs,
		ServerReceivedAt: row.ServerReceivedAt,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
