// Package player implements the per-participant question progression
// controller: it advances through the ordered question list, runs the
// per-question countdown, accepts at most one answer per question and
// reports scores and completion to the session store.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quizcraft-live-service/internal/domain"
)

// State of the progression machine.
type State int

const (
	StateLoading State = iota
	StateAwaitingAnswer
	StateAnswerLocked
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAwaitingAnswer:
		return "awaitingAnswer"
	case StateAnswerLocked:
		return "answerLocked"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QuestionSource fetches the ordered question list for this participant's
// view.
type QuestionSource interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}

// Submitter is the server-facing sink for answer and completion events.
type Submitter interface {
	SubmitAnswer(ctx context.Context, rec domain.AnswerRecord) error
	Complete(ctx context.Context, totalScore int, timeTaken float64) error
}

// BaseScore is awarded for any correct answer; BonusPerSecond is added per
// second left on the countdown.
const (
	BaseScore      = 100
	BonusPerSecond = 5
)

// Score computes the time-weighted score for one question. Incorrect or
// skipped answers score zero; a correct answer earns the base plus the
// remaining-time bonus, floored at zero bonus when the timer ran out.
func Score(timerSeconds int, elapsedSeconds float64, correct bool) int {
	if !correct {
		return 0
	}
	remaining := math.Max(0, float64(timerSeconds)-elapsedSeconds)
	return BaseScore + int(math.Round(remaining*BonusPerSecond))
}

// cancelTimer stops a scheduled callback.
type cancelTimer func()

// scheduler plants fn to run after d. Injectable so tests drive timers by
// hand.
type scheduler func(d time.Duration, fn func()) cancelTimer

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithScheduler replaces timer scheduling.
func WithScheduler(s scheduler) Option {
	return func(c *Controller) { c.schedule = s }
}

// WithAdvanceDelay sets the pause between locking an answer and showing
// the next question.
func WithAdvanceDelay(d time.Duration) Option {
	return func(c *Controller) { c.advanceDelay = d }
}

// WithLoadRetry sets the bounded retry used when fetching the question
// list.
func WithLoadRetry(attempts int, backoff time.Duration) Option {
	return func(c *Controller) {
		if attempts > 0 {
			c.loadAttempts = attempts
		}
		c.loadBackoff = backoff
	}
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller is the progression state machine for one participant. All
// methods are safe for concurrent use; the countdown expiry and a user
// selection race for the same lock and exactly one of them wins.
type Controller struct {
	source QuestionSource
	sink   Submitter
	log    zerolog.Logger

	now          func() time.Time
	schedule     scheduler
	advanceDelay time.Duration
	loadAttempts int
	loadBackoff  time.Duration

	mu        sync.Mutex
	state     State
	questions []domain.Question
	index     int
	enteredAt time.Time
	epoch     int // bumps on every transition; stale timer callbacks no-op
	cancel    cancelTimer

	submitted []bool
	scores    []int
	times     []float64
	correct   int

	runCtx context.Context
}

func New(source QuestionSource, sink Submitter, opts ...Option) *Controller {
	c := &Controller{
		source:       source,
		sink:         sink,
		log:          zerolog.Nop(),
		now:          time.Now,
		advanceDelay: 1500 * time.Millisecond,
		loadAttempts: 3,
		loadBackoff:  500 * time.Millisecond,
		state:        StateLoading,
	}
	c.schedule = func(d time.Duration, fn func()) cancelTimer {
		t := time.AfterFunc(d, fn)
		return func() { t.Stop() }
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start fetches the question list (bounded retry with backoff) and enters
// the first question. On terminal load failure the machine is Failed and
// the caller must route the user back to the waiting view.
func (c *Controller) Start(ctx context.Context) error {
	questions, err := c.loadQuestions(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrQuestionListUnavailable, err)
	}
	if len(questions) == 0 {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("%w: empty question list", domain.ErrQuestionListUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
	c.questions = questions
	c.submitted = make([]bool, len(questions))
	c.scores = make([]int, len(questions))
	c.times = make([]float64, len(questions))
	c.enterQuestionLocked(0)
	return nil
}

func (c *Controller) loadQuestions(ctx context.Context) ([]domain.Question, error) {
	var lastErr error
	backoff := c.loadBackoff
	for attempt := 1; attempt <= c.loadAttempts; attempt++ {
		questions, err := c.source.Questions(ctx)
		if err == nil {
			return questions, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("question list fetch failed")
		if attempt == c.loadAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// SelectAnswer records the user's choice for the current question. After
// the question is locked (by an earlier choice or by timer expiry) further
// selections are ignored.
func (c *Controller) SelectAnswer(value string) {
	c.mu.Lock()
	if c.state != StateAwaitingAnswer {
		c.mu.Unlock()
		return
	}
	rec, emit := c.lockAnswerLocked(value, false)
	c.mu.Unlock()
	if emit {
		c.submitWithRetry(rec)
	}
}

// enterQuestionLocked transitions to AwaitingAnswer(i) and arms the
// countdown.
func (c *Controller) enterQuestionLocked(i int) {
	c.index = i
	c.state = StateAwaitingAnswer
	c.enteredAt = c.now()
	c.epoch++
	epoch := c.epoch
	q := c.questions[i]
	c.cancel = c.schedule(time.Duration(q.TimerSeconds)*time.Second, func() {
		c.timerExpired(epoch)
	})
}

func (c *Controller) timerExpired(epoch int) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateAwaitingAnswer {
		c.mu.Unlock()
		return
	}
	rec, emit := c.lockAnswerLocked(domain.SkippedAnswer, true)
	c.mu.Unlock()
	if emit {
		c.submitWithRetry(rec)
	}
}

// lockAnswerLocked enters AnswerLocked(i): scores the answer and schedules
// the advance to the next question. The returned record, flagged for
// emission at most once per question, must be submitted by the caller after
// releasing the mutex so a slow store round trip cannot stall the machine.
func (c *Controller) lockAnswerLocked(value string, timedOut bool) (domain.AnswerRecord, bool) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	i := c.index
	q := c.questions[i]
	elapsed := c.now().Sub(c.enteredAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	correct := !timedOut && value == q.CorrectOption
	score := Score(q.TimerSeconds, elapsed, correct)

	c.state = StateAnswerLocked
	c.scores[i] = score
	c.times[i] = elapsed
	if correct {
		c.correct++
	}

	emit := !c.submitted[i]
	c.submitted[i] = true

	c.epoch++
	epoch := c.epoch
	c.cancel = c.schedule(c.advanceDelay, func() {
		c.advance(epoch)
	})

	return domain.AnswerRecord{
		QuestionID:    q.ID,
		Answer:        value,
		Correct:       correct,
		TimeTaken:     elapsed,
		Score:         score,
		QuestionText:  q.Text,
		CorrectOption: q.CorrectOption,
		Options:       q.Options,
	}, emit
}

// submitWithRetry pushes the record to the store with bounded backoff. A
// duplicate rejection means the store already holds an answer for this
// question; its version stays authoritative and we move on.
func (c *Controller) submitWithRetry(rec domain.AnswerRecord) {
	ctx := c.runCtx
	backoff := c.loadBackoff
	for attempt := 1; attempt <= c.loadAttempts; attempt++ {
		err := c.sink.SubmitAnswer(ctx, rec)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			c.log.Warn().Str("question", rec.QuestionID).Msg("store already holds an answer for question")
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Str("question", rec.QuestionID).Msg("answer submission failed")
		if attempt == c.loadAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Controller) advance(epoch int) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateAnswerLocked {
		c.mu.Unlock()
		return
	}
	if c.index+1 < len(c.questions) {
		c.enterQuestionLocked(c.index + 1)
		c.mu.Unlock()
		return
	}
	total, timeTaken, correct, questions := c.finishLocked()
	c.mu.Unlock()

	if err := c.sink.Complete(c.runCtx, total, timeTaken); err != nil {
		c.log.Warn().Err(err).Int("total", total).Msg("completion report failed")
	}
	c.log.Info().Int("total", total).Int("correct", correct).Int("questions", questions).Msg("quiz finished")
}

// finishLocked sums the per-question scores rather than trusting a single
// running counter, so out-of-order updates cannot skew the total.
func (c *Controller) finishLocked() (total int, timeTaken float64, correct, questions int) {
	c.state = StateFinished
	for i := range c.scores {
		total += c.scores[i]
		timeTaken += c.times[i]
	}
	return total, timeTaken, c.correct, len(c.questions)
}

// Reconnected notes a transport drop-and-resume. Progression state is kept
// intact: the question index and submitted flags survive, and the server's
// duplicate check covers any answer that was already delivered.
func (c *Controller) Reconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info().Int("question", c.index).Str("state", c.state.String()).Msg("transport reconnected, progression preserved")
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QuestionIndex returns the current question position.
func (c *Controller) QuestionIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// TotalScore sums the locally recorded per-question scores.
func (c *Controller) TotalScore() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, s := range c.scores {
		total += s
	}
	return total
}

// CorrectCount returns how many questions were answered correctly so far.
func (c *Controller) CorrectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correct
}

// TimeTaken sums the locally recorded per-question elapsed seconds.
func (c *Controller) TimeTaken() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0.0
	for _, t := range c.times {
		total += t
	}
	return total
}
