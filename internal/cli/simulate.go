package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizcraft-live-service/internal/app"
	"quizcraft-live-service/internal/domain"
	"quizcraft-live-service/internal/player"
)

// NewSimulateCmd runs simulated participants against a live server:
// each one joins the room over a real websocket, plays through the
// question list with the progression controller and waits on the
// completion coordinator for the final leaderboard.
func NewSimulateCmd() *cobra.Command {
	var (
		server  string
		pin     string
		players int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulated participants against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pin == "" {
				return fmt.Errorf("--pin is required")
			}
			return runSimulation(cmd.Context(), server, pin, players)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of the live session server")
	cmd.Flags().StringVar(&pin, "pin", "", "game PIN of the session to join")
	cmd.Flags().IntVar(&players, "players", 3, "number of simulated participants")
	return cmd
}

func runSimulation(ctx context.Context, server, pin string, players int) error {
	logger := newLogger("info").With().Str("component", "simulate").Logger()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < players; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		g.Go(func() error {
			return runParticipant(ctx, server, pin, name, logger)
		})
	}
	return g.Wait()
}

func runParticipant(ctx context.Context, server, pin, name string, logger zerolog.Logger) error {
	log := logger.With().Str("player", name).Logger()

	client, err := dialWS(ctx, server)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.close()

	participant, err := client.join(pin, name)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	log.Info().Str("participant", participant.ID).Msg("joined room")

	questions, err := fetchQuestions(ctx, server, pin)
	if err != nil {
		return err
	}

	sink := &wsSink{client: client, sessionID: participant.SessionID, participantID: participant.ID}
	ctrl := player.New(staticSource(questions), sink, player.WithLogger(log))

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	// Pick an answer for each question after a humanlike delay. Timer
	// expiry covers the questions the schedule never reaches.
	go answerRandomly(ctx, ctrl, questions)

	waitFinished(ctx, ctrl)

	coord := app.NewCompletionCoordinator(func(ctx context.Context) (domain.SessionStatus, error) {
		return fetchStatus(ctx, server, participant.SessionID)
	}, client.events, 2*time.Second)
	result, err := coord.Wait(ctx)
	if err != nil {
		return err
	}
	log.Info().Bool("allFinished", result.AllFinished).Bool("ended", result.Ended).Int("score", ctrl.TotalScore()).Msg("leaderboard revealed")
	return nil
}

func answerRandomly(ctx context.Context, ctrl *player.Controller, questions []domain.Question) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range questions {
		q := questions[i]
		// Wait for the controller to reach this question.
		for ctrl.QuestionIndex() < i || ctrl.State() == player.StateAnswerLocked {
			if ctrl.State() == player.StateFinished || ctx.Err() != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		if len(q.Options) == 0 {
			continue
		}
		delay := time.Duration(1+rnd.Intn(max(1, q.TimerSeconds/2))) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		ctrl.SelectAnswer(q.Options[rnd.Intn(len(q.Options))])
	}
}

func waitFinished(ctx context.Context, ctrl *player.Controller) {
	for ctrl.State() != player.StateFinished && ctrl.State() != player.StateFailed {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// wsClient is a minimal websocket client for the boundary events.
type wsClient struct {
	conn   *websocket.Conn
	events chan app.Event

	joinedCh chan domain.Participant
}

func dialWS(ctx context.Context, server string) (*wsClient, error) {
	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	c := &wsClient{
		conn:     conn,
		events:   make(chan app.Event, 32),
		joinedCh: make(chan domain.Participant, 1),
	}
	go c.readLoop()
	return c, nil
}

func (c *wsClient) readLoop() {
	defer close(c.events)
	for {
		var raw struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := c.conn.ReadJSON(&raw); err != nil {
			return
		}
		switch raw.Type {
		case "joined":
			var payload struct {
				Participant domain.Participant `json:"participant"`
			}
			if err := json.Unmarshal(raw.Payload, &payload); err == nil {
				c.joinedCh <- payload.Participant
			}
		default:
			var payload any
			_ = json.Unmarshal(raw.Payload, &payload)
			select {
			case c.events <- app.Event{Type: raw.Type, Payload: payload}:
			default:
			}
		}
	}
}

func (c *wsClient) join(pin, name string) (domain.Participant, error) {
	err := c.send("joinRoom", map[string]any{
		"pin":             pin,
		"participantName": name,
		"participantId":   uuid.NewString(),
		"userId":          uuid.NewString(),
		"isHost":          false,
	})
	if err != nil {
		return domain.Participant{}, err
	}
	select {
	case p := <-c.joinedCh:
		return p, nil
	case <-time.After(10 * time.Second):
		return domain.Participant{}, fmt.Errorf("timed out waiting for join ack")
	}
}

func (c *wsClient) send(eventType string, payload any) error {
	return c.conn.WriteJSON(map[string]any{"type": eventType, "payload": payload})
}

func (c *wsClient) close() {
	_ = c.conn.Close()
}

// wsSink delivers the controller's answer and completion events over the
// socket.
type wsSink struct {
	client        *wsClient
	sessionID     string
	participantID string
}

func (s *wsSink) SubmitAnswer(_ context.Context, rec domain.AnswerRecord) error {
	return s.client.send("submitAnswer", map[string]any{
		"sessionRef":    s.sessionID,
		"questionId":    rec.QuestionID,
		"participantId": s.participantID,
		"answer":        rec.Answer,
		"isCorrect":     rec.Correct,
		"timeTaken":     rec.TimeTaken,
		"score":         rec.Score,
		"questionText":  rec.QuestionText,
		"correctOption": rec.CorrectOption,
		"options":       rec.Options,
	})
}

func (s *wsSink) Complete(_ context.Context, totalScore int, timeTaken float64) error {
	return s.client.send("quizComplete", map[string]any{
		"sessionRef":    s.sessionID,
		"participantId": s.participantID,
		"totalScore":    totalScore,
		"timeTaken":     timeTaken,
	})
}

type staticSource []domain.Question

func (s staticSource) Questions(context.Context) ([]domain.Question, error) {
	return s, nil
}

func fetchQuestions(ctx context.Context, server, pin string) ([]domain.Question, error) {
	var body struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := getJSON(ctx, server+"/api/sessions/pin/"+url.PathEscape(pin)+"/questions", &body); err != nil {
		return nil, err
	}
	return body.Questions, nil
}

func fetchStatus(ctx context.Context, server, sessionID string) (domain.SessionStatus, error) {
	var status domain.SessionStatus
	err := getJSON(ctx, server+"/api/sessions/"+url.PathEscape(sessionID)+"/status", &status)
	return status, err
}

func getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
