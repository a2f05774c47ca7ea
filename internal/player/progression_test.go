package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizcraft-live-service/internal/domain"
)

func TestScoreFormula(t *testing.T) {
	// 100 base + 5 per remaining second.
	assert.Equal(t, 200, Score(30, 10, true))
	assert.Equal(t, 100, Score(30, 30, true))
	assert.Equal(t, 100, Score(30, 45, true)) // bonus floored at zero
	assert.Equal(t, 0, Score(30, 10, false))
	assert.Equal(t, 250, Score(30, 0, true))
}

func TestSequentialProgression(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.Equal(t, StateAwaitingAnswer, ctrl.State())
	assert.Equal(t, 0, ctrl.QuestionIndex())

	// Question 1 never becomes visible before question 0 locks.
	ctrl.SelectAnswer("4")
	assert.Equal(t, StateAnswerLocked, ctrl.State())
	assert.Equal(t, 0, ctrl.QuestionIndex())

	timers.fireLast() // advance delay
	assert.Equal(t, StateAwaitingAnswer, ctrl.State())
	assert.Equal(t, 1, ctrl.QuestionIndex())
}

func TestFirstEventWinsOnLock(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))

	clock.Advance(5 * time.Second)
	ctrl.SelectAnswer("4")
	// Second selection and a late timer expiry are both ignored.
	ctrl.SelectAnswer("3")
	timers.fire(0) // the question countdown, now stale

	require.Len(t, sink.answers, 1)
	assert.Equal(t, "4", sink.answers[0].Answer)
	assert.True(t, sink.answers[0].Correct)
	assert.Equal(t, 225, sink.answers[0].Score)
}

func TestTimeoutScoresZeroAndSubmitsSentinel(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))

	clock.Advance(30 * time.Second)
	timers.fire(0)

	require.Len(t, sink.answers, 1)
	assert.Equal(t, domain.SkippedAnswer, sink.answers[0].Answer)
	assert.False(t, sink.answers[0].Correct)
	assert.Zero(t, sink.answers[0].Score)
}

func TestEndToEndScenario(t *testing.T) {
	// 3 questions, timers [30,20,25]: correct at 5s (225), timeout (0),
	// incorrect at 3s (0). Final: 225 total, 1/3 correct, completed.
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))

	clock.Advance(5 * time.Second)
	ctrl.SelectAnswer("4")
	timers.fireLast()

	clock.Advance(20 * time.Second)
	timers.fireLast() // q2 countdown expires
	timers.fireLast() // advance to q3

	clock.Advance(3 * time.Second)
	ctrl.SelectAnswer("Venus")
	timers.fireLast()

	assert.Equal(t, StateFinished, ctrl.State())
	require.True(t, sink.completed)
	assert.Equal(t, 225, sink.totalScore)
	assert.InDelta(t, 28.0, sink.timeTaken, 0.001)
	assert.Equal(t, 1, ctrl.CorrectCount())
	require.Len(t, sink.answers, 3)
}

func TestDuplicateRejectionFromStoreIsAccepted(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{submitErr: domain.ErrDuplicateSubmission}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))

	ctrl.SelectAnswer("4")
	// The store already had an answer; the controller moves on without
	// retrying.
	assert.Equal(t, StateAnswerLocked, ctrl.State())
	assert.Len(t, sink.answers, 1)
}

func TestSlowSubmissionDoesNotBlockState(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))

	go ctrl.SelectAnswer("4")
	<-sink.started

	// The store round trip is still in flight; the machine must stay
	// responsive and the advance timer must already be armed.
	stateRead := make(chan State, 1)
	go func() { stateRead <- ctrl.State() }()
	select {
	case st := <-stateRead:
		assert.Equal(t, StateAnswerLocked, st)
	case <-time.After(2 * time.Second):
		t.Fatal("State blocked behind an in-flight submission")
	}
	assert.Equal(t, 2, timers.count())

	close(sink.release)
}

func TestLoadFailureIsTerminal(t *testing.T) {
	sink := &captureSink{}
	source := &failingSource{err: errors.New("backend down")}
	ctrl := New(source, sink,
		WithLoadRetry(3, time.Millisecond),
	)

	err := ctrl.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuestionListUnavailable)
	assert.Equal(t, StateFailed, ctrl.State())
	assert.Equal(t, 3, source.calls)
}

func TestEmptyQuestionListFails(t *testing.T) {
	ctrl := New(questionSource(nil), &captureSink{})
	err := ctrl.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrQuestionListUnavailable)
	assert.Equal(t, StateFailed, ctrl.State())
}

func TestReconnectedKeepsProgression(t *testing.T) {
	clock := newFakeClock()
	timers := &fakeTimers{}
	sink := &captureSink{}
	ctrl := New(questionSource(threeQuestions()), sink,
		WithClock(clock.Now),
		WithScheduler(timers.schedule),
	)
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.SelectAnswer("4")
	timers.fireLast()

	ctrl.Reconnected()
	assert.Equal(t, 1, ctrl.QuestionIndex())
	assert.Equal(t, StateAwaitingAnswer, ctrl.State())
	// The answered flag survives: no re-submission happens.
	assert.Len(t, sink.answers, 1)
}

func threeQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4", TimerSeconds: 30},
		{ID: "q2", Text: "Closest planet to the sun?", Options: []string{"Venus", "Mercury"}, CorrectOption: "Mercury", TimerSeconds: 20},
		{ID: "q3", Text: "Largest planet?", Options: []string{"Venus", "Jupiter"}, CorrectOption: "Jupiter", TimerSeconds: 25},
	}
}

type questionSource []domain.Question

func (s questionSource) Questions(context.Context) ([]domain.Question, error) {
	return s, nil
}

type failingSource struct {
	err   error
	calls int
}

func (s *failingSource) Questions(context.Context) ([]domain.Question, error) {
	s.calls++
	return nil, s.err
}

type captureSink struct {
	mu         sync.Mutex
	answers    []domain.AnswerRecord
	completed  bool
	totalScore int
	timeTaken  float64
	submitErr  error
}

func (s *captureSink) SubmitAnswer(_ context.Context, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, rec)
	return s.submitErr
}

func (s *captureSink) Complete(_ context.Context, totalScore int, timeTaken float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	s.totalScore = totalScore
	s.timeTaken = timeTaken
	return nil
}

// blockingSink parks SubmitAnswer until released, mimicking a stalled
// store round trip.
type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) SubmitAnswer(context.Context, domain.AnswerRecord) error {
	close(s.started)
	<-s.release
	return nil
}

func (s *blockingSink) Complete(context.Context, int, float64) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTimers records scheduled callbacks; tests fire them by hand.
type fakeTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (f *fakeTimers) schedule(_ time.Duration, fn func()) cancelTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return func() {}
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) fireLast() {
	f.fire(f.count() - 1)
}
