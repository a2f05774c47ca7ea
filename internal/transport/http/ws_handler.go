package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizcraft-live-service/internal/app"
	"quizcraft-live-service/internal/domain"
	"quizcraft-live-service/internal/metrics"
)

// WSHandler upgrades connections and routes the live-session boundary
// events. Every inbound message carries a type tag and one fixed payload
// schema per type; anything that does not decode is answered with an
// error event and never reaches the service layer.
type WSHandler struct {
	service  *app.SessionService
	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, m *metrics.Metrics, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		metrics: m,
		log:     log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads, one schema per event type.
type joinRoomPayload struct {
	PIN             string `json:"pin"`
	ParticipantName string `json:"participantName"`
	ParticipantID   string `json:"participantId"`
	IsHost          bool   `json:"isHost"`
	UserID          string `json:"userId"`
}

type leaveRoomPayload struct {
	PIN           string `json:"pin"`
	ParticipantID string `json:"participantId"`
}

type submitAnswerPayload struct {
	SessionRef    string   `json:"sessionRef"`
	QuestionID    string   `json:"questionId"`
	ParticipantID string   `json:"participantId"`
	Answer        string   `json:"answer"`
	IsCorrect     bool     `json:"isCorrect"`
	TimeTaken     float64  `json:"timeTaken"`
	Score         int      `json:"score"`
	QuestionText  string   `json:"questionText"`
	CorrectOption string   `json:"correctOption"`
	Options       []string `json:"options"`
}

type quizCompletePayload struct {
	SessionRef    string  `json:"sessionRef"`
	ParticipantID string  `json:"participantId"`
	TotalScore    int     `json:"totalScore"`
	TimeTaken     float64 `json:"timeTaken"`
}

type avatarSyncPayload struct {
	PIN string `json:"pin"`
}

// Outbound payloads not already defined by the app package.
type joinedPayload struct {
	Participant domain.Participant `json:"participant"`
	Avatars     map[string]string  `json:"avatars"`
}

type answerReceivedPayload struct {
	QuestionID string `json:"questionId"`
	IsCorrect  bool   `json:"isCorrect"`
	Score      int    `json:"score"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS runs one connection's event loop: a single writer goroutine
// owns the socket, room events are forwarded from the registry
// subscription, and inbound events mutate through the service layer.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	h.metrics.WSOpened()
	defer h.metrics.WSClosed()

	ctx := r.Context()
	send := make(chan app.Event, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for ev := range send {
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	var (
		joined        bool
		pin           string
		participantID string
		unsubscribe   func()
		updatesDone   chan struct{}
	)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "joinRoom":
			var payload joinRoomPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.PIN == "" || payload.ParticipantName == "" {
				send <- errorEvent("invalid joinRoom payload")
				continue
			}
			if joined {
				send <- errorEvent("already joined a room")
				continue
			}

			// Subscribe before joining so this connection also sees its
			// own join broadcast.
			updates, cancel := h.service.Registry().Subscribe(payload.PIN)

			participant, avatars, err := h.service.JoinRoom(ctx, app.JoinRequest{
				PIN:           payload.PIN,
				UserID:        payload.UserID,
				ParticipantID: payload.ParticipantID,
				DisplayName:   payload.ParticipantName,
				IsHost:        payload.IsHost,
			})
			if err != nil {
				cancel()
				send <- errorEvent(err.Error())
				continue
			}

			joined = true
			pin = payload.PIN
			participantID = participant.ID
			unsubscribe = cancel
			updatesDone = forwardRoomEvents(updates, send, closeSignals)

			send <- app.Event{Type: "joined", Payload: joinedPayload{Participant: participant, Avatars: avatars}}

		case "leaveRoom":
			var payload leaveRoomPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.PIN == "" {
				send <- errorEvent("invalid leaveRoom payload")
				continue
			}
			h.service.LeaveRoom(ctx, payload.PIN, payload.ParticipantID)
			if payload.PIN == pin && payload.ParticipantID == participantID {
				joined = false
				if unsubscribe != nil {
					unsubscribe()
					unsubscribe = nil
				}
			}

		case "submitAnswer":
			var payload submitAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.SessionRef == "" || payload.QuestionID == "" {
				send <- errorEvent("invalid submitAnswer payload")
				continue
			}
			stored, _, err := h.service.SubmitAnswer(ctx, payload.SessionRef, payload.ParticipantID, domain.AnswerRecord{
				QuestionID:    payload.QuestionID,
				Answer:        payload.Answer,
				Correct:       payload.IsCorrect,
				TimeTaken:     payload.TimeTaken,
				Score:         payload.Score,
				QuestionText:  payload.QuestionText,
				CorrectOption: payload.CorrectOption,
				Options:       payload.Options,
			})
			if err != nil {
				send <- errorEvent(err.Error())
				continue
			}
			// Either the fresh record or, on a duplicate, whatever the
			// store already holds. The store's version is authoritative.
			send <- app.Event{Type: "answerReceived", Payload: answerReceivedPayload{
				QuestionID: stored.QuestionID,
				IsCorrect:  stored.Correct,
				Score:      stored.Score,
			}}

		case "quizComplete":
			var payload quizCompletePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.SessionRef == "" {
				send <- errorEvent("invalid quizComplete payload")
				continue
			}
			allFinished, err := h.service.Complete(ctx, payload.SessionRef, payload.ParticipantID, payload.TotalScore, payload.TimeTaken)
			if err != nil {
				send <- errorEvent(err.Error())
				continue
			}
			send <- app.Event{Type: app.EventShowResults, Payload: app.ShowResultsPayload{
				SessionRef:              payload.SessionRef,
				AllParticipantsFinished: allFinished,
			}}

		case "requestAvatarSync":
			var payload avatarSyncPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.PIN == "" {
				send <- errorEvent("invalid requestAvatarSync payload")
				continue
			}
			avatars := h.service.AvatarSync(payload.PIN)
			if avatars == nil {
				avatars = map[string]string{}
			}
			send <- app.Event{Type: app.EventAvatarsUpdate, Payload: map[string]any{"avatars": avatars}}

		default:
			send <- errorEvent("unsupported message type")
		}
	}

	if joined {
		h.service.LeaveRoom(context.Background(), pin, participantID)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	close(closeSignals)
	if updatesDone != nil {
		<-updatesDone
	}
	close(send)
	<-writerDone
}

// forwardRoomEvents pumps registry events into the connection's send
// channel until either side closes.
func forwardRoomEvents(updates <-chan app.Event, send chan<- app.Event, closeSignals <-chan struct{}) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- ev:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()
	return done
}

func errorEvent(msg string) app.Event {
	return app.Event{Type: "error", Payload: errorPayload{Message: msg}}
}
