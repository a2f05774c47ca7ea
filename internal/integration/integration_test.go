package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizcraft-live-service/internal/app"
	"quizcraft-live-service/internal/domain"
	pgloader "quizcraft-live-service/internal/infra/postgres"
	pgmigrations "quizcraft-live-service/internal/infra/postgres/migrations"
	infraredis "quizcraft-live-service/internal/infra/redis"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	loader := pgloader.NewQuizLoader(pool)
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	store := infraredis.NewSessionStore(redisClient, time.Hour)
	registry := app.NewRoomRegistry()
	defer registry.Close()
	service := app.NewSessionService(store, quizRepo, registry, nil, zerolog.Nop())

	session, err := service.CreateSession(ctx, "quiz-1", "host-user")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(session.PIN) != domain.DefaultPINLength {
		t.Fatalf("bad pin %q", session.PIN)
	}

	ann, _, err := service.JoinRoom(ctx, app.JoinRequest{PIN: session.PIN, UserID: "u1", DisplayName: "Ann"})
	if err != nil {
		t.Fatalf("join ann: %v", err)
	}
	bob, _, err := service.JoinRoom(ctx, app.JoinRequest{PIN: session.PIN, UserID: "u2", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if _, err := service.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start session: %v", err)
	}

	questions, err := service.QuestionsForPIN(ctx, session.PIN)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 1 || questions[0].CorrectOption != "4" {
		t.Fatalf("unexpected questions: %+v", questions)
	}

	// Ann answers correctly, Bob gets it wrong. Duplicates are rejected.
	_, accepted, err := service.SubmitAnswer(ctx, session.ID, ann.ID, domain.AnswerRecord{
		QuestionID: "q1", Answer: "4", Correct: true, TimeTaken: 5, Score: 225,
	})
	if err != nil || !accepted {
		t.Fatalf("ann submit: accepted=%v err=%v", accepted, err)
	}
	stored, accepted, err := service.SubmitAnswer(ctx, session.ID, ann.ID, domain.AnswerRecord{
		QuestionID: "q1", Answer: "3", Correct: false, Score: 0,
	})
	if err != nil || accepted {
		t.Fatalf("duplicate should be rejected without error: accepted=%v err=%v", accepted, err)
	}
	if stored.Answer != "4" || stored.Score != 225 {
		t.Fatalf("duplicate did not echo the stored record: %+v", stored)
	}
	if _, _, err := service.SubmitAnswer(ctx, session.ID, bob.ID, domain.AnswerRecord{
		QuestionID: "q1", Answer: "3", Correct: false, TimeTaken: 8, Score: 0,
	}); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	all, err := service.Complete(ctx, session.ID, ann.ID, 225, 5)
	if err != nil {
		t.Fatalf("ann complete: %v", err)
	}
	if all {
		t.Fatal("session should not be finished with bob pending")
	}
	all, err = service.Complete(ctx, session.ID, bob.ID, 0, 8)
	if err != nil {
		t.Fatalf("bob complete: %v", err)
	}
	if !all {
		t.Fatal("session should be finished once both completed")
	}

	status, err := service.Status(ctx, session.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CompletedCount != 2 || status.TotalPlayers != 2 || !status.IsLive {
		t.Fatalf("unexpected status: %+v", status)
	}

	entries, err := service.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ParticipantID != ann.ID || entries[0].Rank != 1 || entries[0].Score != 225 {
		t.Fatalf("expected ann leading: %+v", entries)
	}

	if _, err := service.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	status, err = service.Status(ctx, session.ID)
	if err != nil {
		t.Fatalf("status after end: %v", err)
	}
	if status.IsLive {
		t.Fatal("ended session still reported live")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "General Knowledge",
		Questions: []domain.Question{
			{
				ID:            "q1",
				Text:          "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectOption: "4",
				TimerSeconds:  30,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
