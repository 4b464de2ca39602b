package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgstore "quizroom-service/internal/infra/postgres"
	redisstore "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

type deps struct {
	rooms    app.RoomStore
	realtime app.RealtimeStore
	quizzes  app.QuizRepository
	close    func()
}

// buildDeps wires the storage stack from config. Without Postgres and Redis
// everything runs in memory, which is how the test suite and local
// single-node development use it.
func buildDeps(ctx context.Context, cfg config.Config) (deps, error) {
	closers := []func(){}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var rooms app.RoomStore = memory.NewRoomStore()
	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		closers = append(closers, func() { _ = bundb.Close() })
		rooms = pgstore.NewRoomStore(bundb)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return deps{}, err
		}
		closers = append(closers, pool.Close)
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository = memory.NewQuizRepository(loader, quizTTL)
	var realtime app.RealtimeStore = memory.NewRealtimeStore()
	if redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		realtime = redisstore.NewRealtimeStore(redisClient)
	}

	return deps{
		rooms:    rooms,
		realtime: realtime,
		quizzes:  quizzes,
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	roomService := app.NewRoomService(d.rooms, d.quizzes, d.realtime, app.RoomPolicy{
		MinPlayers:   cfg.Room.MinPlayers,
		RequireReady: cfg.Room.RequireReady,
	})
	gameService := app.NewGameService(d.rooms, d.quizzes, d.realtime, app.GamePolicy{
		GracePeriod: config.TTLDuration(cfg.Game.GracePeriod, 2*time.Second),
		RateLimit:   cfg.Game.RateLimit,
		RateWindow:  config.TTLDuration(cfg.Game.RateWindow, time.Second),
		AutoAdvance: cfg.Game.AutoAdvance,
	})
	presenceTTL := config.TTLDuration(cfg.Presence.TTL, 30*time.Second)
	presence := app.NewPresenceTracker(d.rooms, d.realtime, presenceTTL)
	reaper := app.NewReaper(d.rooms, d.realtime, presence, app.ReaperPolicy{
		Interval:        config.TTLDuration(cfg.Reaper.Interval, 5*time.Minute),
		EmptyTTL:        config.TTLDuration(cfg.Reaper.EmptyTTL, 30*time.Minute),
		ArchiveFinished: cfg.Reaper.ArchiveFinished,
	})

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.Run(reaperCtx)

	wsHandler := transport.NewWSHandler(roomService, gameService, presence, d.realtime)
	roomsHandler := transport.NewRoomsHandler(roomService)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", transport.Healthz)
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	roomsHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz room service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the in-memory loader; production points the loader at
// the quizzes table instead.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warmup",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					CorrectIndex: 1,
					Order:        0,
				},
				{
					ID:     "q2",
					Prompt: "What is the capital of France?",
					Options: []domain.Option{
						{ID: "o1", Text: "Lyon"},
						{ID: "o2", Text: "Marseille"},
						{ID: "o3", Text: "Paris"},
						{ID: "o4", Text: "Nice"},
					},
					CorrectIndex: 2,
					Order:        1,
				},
			},
		},
	}
}
