package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	infrapg "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/notify"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())
	seedQuiz(t, ctx, pgURL, shortQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	sub := redisClient.Subscribe(ctx, infraredis.DefaultCompletionChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	quizRepo := infraredis.NewQuizRepository(redisClient, infrapg.NewQuizLoader(pool), 5*time.Minute)
	attemptStore := infrapg.NewAttemptStore(pool)
	notifier := notify.Multi(
		notify.NewLogNotifier(slog.Default()),
		infraredis.NewNotifier(redisClient, ""),
	)
	service := app.NewAttemptService(attemptStore, quizRepo, notifier, slog.Default())

	// User-driven path: start, submit, verify the persisted grade.
	attempt, err := service.StartAttempt(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if attempt.ExpiresAt == nil {
		t.Fatalf("expected a deadline for the timed quiz")
	}

	selected := 1
	graded, err := service.Submit(ctx, attempt.ID, map[int64]*int{1: &selected})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.Score == nil || *graded.Score != 100 {
		t.Fatalf("expected score 100, got %v", graded.Score)
	}

	stored, err := attemptStore.FindByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.Completed() || *stored.Score != 100 || *stored.EarnedPoints != 1 || *stored.TotalPoints != 1 {
		t.Fatalf("persisted grade mismatch: %+v", stored)
	}
	if stored.Answers[1] != 1 {
		t.Fatalf("persisted answers mismatch: %v", stored.Answers)
	}

	if _, err := service.Submit(ctx, attempt.ID, map[int64]*int{1: &selected}); err != domain.ErrAttemptCompleted {
		t.Fatalf("expected ErrAttemptCompleted on resubmit, got %v", err)
	}

	waitForEvent(t, sub, attempt.ID)

	// Sweeper path: an expired attempt is force-completed with no answers.
	abandoned, err := service.StartAttempt(ctx, "u2", "quiz-short")
	if err != nil {
		t.Fatalf("start short: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	sweeper := app.NewSweeper(attemptStore, service, time.Minute, slog.Default())
	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 force completion, got %d", n)
	}

	swept, err := attemptStore.FindByID(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("reload swept: %v", err)
	}
	if !swept.Completed() || *swept.Score != 0 {
		t.Fatalf("expected force-completed attempt with score 0, got %+v", swept)
	}
	waitForEvent(t, sub, abandoned.ID)
}

func waitForEvent(t *testing.T, sub *goredis.PubSub, attemptID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			var event notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if event.AttemptID == attemptID {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for completion event of %s", attemptID)
		}
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
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		Title:     "Arithmetic",
		TimeLimit: 30 * time.Minute,
		Questions: []domain.Question{
			{
				ID:           1,
				Prompt:       "What is 2 + 2?",
				Options:      []string{"3", "4", "5"},
				CorrectIndex: 1,
				Points:       1,
			},
		},
	}
}

// shortQuiz expires almost immediately so the sweeper path is exercised.
func shortQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-short",
		Title:     "Blink and you miss it",
		TimeLimit: 50 * time.Millisecond,
		Questions: []domain.Question{
			{
				ID:           1,
				Prompt:       "Too late",
				Options:      []string{"a", "b"},
				CorrectIndex: 0,
				Points:       2,
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
