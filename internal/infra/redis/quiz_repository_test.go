package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quizcraft-live-service/internal/domain"
)

type countingLoader struct {
	loads int32
	quiz  domain.Quiz
	err   error
}

func (l *countingLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	atomic.AddInt32(&l.loads, 1)
	if l.err != nil {
		return domain.Quiz{}, l.err
	}
	quiz := l.quiz
	quiz.ID = quizID
	return quiz, nil
}

func newTestQuizRepo(t *testing.T, loader QuizLoader) (*QuizRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQuizRepository(client, loader, time.Minute), mr
}

func TestGetQuizCachesInRedis(t *testing.T) {
	loader := &countingLoader{quiz: domain.Quiz{
		Title: "General Knowledge",
		Questions: []domain.Question{
			{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectOption: "4", TimerSeconds: 30},
		},
	}}
	repo, mr := newTestQuizRepo(t, loader)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		quiz, err := repo.GetQuiz(ctx, "quiz-1")
		if err != nil {
			t.Fatalf("GetQuiz: %v", err)
		}
		if quiz.ID != "quiz-1" || len(quiz.Questions) != 1 {
			t.Fatalf("unexpected quiz %+v", quiz)
		}
	}
	if got := atomic.LoadInt32(&loader.loads); got != 1 {
		t.Fatalf("expected 1 backing load, got %d", got)
	}
	if !mr.Exists("qc:quiz:quiz-1") {
		t.Fatal("quiz not cached in redis")
	}
	if mr.TTL("qc:quiz:quiz-1") <= 0 {
		t.Fatal("cached quiz has no TTL")
	}
}

func TestGetQuizReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{quiz: domain.Quiz{Title: "General Knowledge"}}
	repo, mr := newTestQuizRepo(t, loader)
	ctx := context.Background()

	if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("GetQuiz after expiry: %v", err)
	}
	if got := atomic.LoadInt32(&loader.loads); got != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", got)
	}
}

func TestGetQuizLoaderErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	loader := &countingLoader{err: boom}
	repo, _ := newTestQuizRepo(t, loader)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestGetQuizCorruptCacheFallsBackToLoader(t *testing.T) {
	loader := &countingLoader{quiz: domain.Quiz{Title: "General Knowledge"}}
	repo, mr := newTestQuizRepo(t, loader)

	mr.Set("qc:quiz:quiz-1", "{not json")
	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if quiz.Title != "General Knowledge" {
		t.Fatalf("unexpected quiz %+v", quiz)
	}
	if got := atomic.LoadInt32(&loader.loads); got != 1 {
		t.Fatalf("expected 1 load past the corrupt entry, got %d", got)
	}
}
