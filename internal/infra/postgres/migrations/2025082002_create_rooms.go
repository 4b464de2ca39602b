package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_rooms.sql
var createRoomsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createRoomsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS room_answers;
				DROP TABLE IF EXISTS room_players;
				DROP TABLE IF EXISTS archived_rooms;
				DROP TABLE IF EXISTS rooms;
			`)
			return err
		},
	)
}
