package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"storymap-live/internal/app"
	"storymap-live/internal/config"
	"storymap-live/internal/domain"
	"storymap-live/internal/infra/memory"
	pgloader "storymap-live/internal/infra/postgres"
	redisinfra "storymap-live/internal/infra/redis"
	"storymap-live/internal/roster"
	transport "storymap-live/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QueueLoader = memory.NewStaticQueueLoader(sampleQueues())
	if pool != nil {
		loader = pgloader.NewQueueLoader(pool)
	}

	sessionSvc := memory.NewSessionService(sampleSessions()...)
	questionSvc := memory.NewQuestionService(loader)
	groupSvc := memory.NewGroupService()
	rosterSvc := memory.NewRosterService()

	var rosterView roster.Service = rosterSvc
	if redisClient != nil {
		rosterView = redisinfra.NewLeaderboardCache(redisClient, rosterSvc, redisTTL)
		presence := redisinfra.NewPresenceStore(redisClient, redisTTL)
		for _, sess := range sampleSessions() {
			if err := presence.Register(ctx, sess.JoinCode, sess.ID); err != nil {
				log.Printf("register join code %s: %v", sess.JoinCode, err)
			}
		}
	}

	registry := app.NewRegistry(app.Services{
		Session:  sessionSvc,
		Question: questionSvc,
		Group:    groupSvc,
		Roster:   rosterView,
	}, app.Options{
		Debounce:        config.Duration(cfg.Sync.Debounce, 0),
		ExtendWindow:    config.Duration(cfg.Question.ExtendWindow, 0),
		LeaderboardSize: cfg.Leaderboard.Limit,
	})
	defer registry.Close()

	wsHandler := transport.NewWSHandler(registry, rosterSvc, questionSvc, groupSvc)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting storymap-live on :%s", finalPort)
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

// sampleSessions seeds a demo session; swap for a real session service in
// production.
func sampleSessions() []domain.Session {
	return []domain.Session{
		{
			ID:       "session-1",
			JoinCode: "DEMO42",
			Status:   domain.StatusNotStarted,
			MapID:    "map-1",
		},
	}
}

func sampleQueues() map[string][]domain.SessionQuestion {
	return map[string][]domain.SessionQuestion{
		"session-1": {
			{
				SessionQuestionID: "sq-1",
				QuestionID:        "q-1",
				DisplayOrder:      0,
				BankID:            "bank-1",
				Question: domain.BroadcastQuestion{
					ID:   "q-1",
					Text: "Which river does this segment follow?",
					Type: domain.QuestionChoice,
					Options: []domain.QuestionOption{
						{ID: "o1", Text: "Danube", Correct: true},
						{ID: "o2", Text: "Rhine"},
						{ID: "o3", Text: "Elbe"},
					},
					TimeLimit: 30,
					Points:    2,
				},
			},
			{
				SessionQuestionID: "sq-2",
				QuestionID:        "q-2",
				DisplayOrder:      1,
				BankID:            "bank-1",
				Question: domain.BroadcastQuestion{
					ID:        "q-2",
					Text:      "Name the capital shown at this stop.",
					Type:      domain.QuestionText,
					Answer:    "Vienna",
					TimeLimit: 20,
					Points:    1,
				},
			},
			{
				SessionQuestionID: "sq-3",
				QuestionID:        "q-3",
				DisplayOrder:      2,
				BankID:            "bank-1",
				Question: domain.BroadcastQuestion{
					ID:         "q-3",
					Text:       "Drop a pin on the river delta.",
					Type:       domain.QuestionLocation,
					Latitude:   45.0355,
					Longitude:  29.2457,
					ToleranceM: 5000,
					TimeLimit:  45,
					Points:     3,
				},
			},
		},
	}
}
