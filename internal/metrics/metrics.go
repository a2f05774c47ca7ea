// Package metrics exposes Prometheus instrumentation for the live session
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quizcraft"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver so tests can wire services without a registry.
type Metrics struct {
	joins            prometheus.Counter
	answersAccepted  prometheus.Counter
	answersDuplicate prometheus.Counter
	completions      prometheus.Counter
	sessionsCreated  prometheus.Counter
	sessionsStarted  prometheus.Counter
	sessionsEnded    prometheus.Counter
	activeRooms      prometheus.GaugeFunc
	wsConnections    prometheus.Gauge
}

// RoomCounter reports how many rooms currently hold state.
type RoomCounter interface {
	RoomCount() int
}

// New registers the service collectors with reg. rooms feeds the active
// rooms gauge.
func New(reg prometheus.Registerer, rooms RoomCounter) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "room", Name: "joins_total",
			Help: "Participants joined (or rejoined) a room.",
		}),
		answersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "answers_accepted_total",
			Help: "Answer submissions persisted as first-for-question.",
		}),
		answersDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "answers_duplicate_total",
			Help: "Answer submissions rejected by first-answer-wins.",
		}),
		completions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "completions_total",
			Help: "Participants that finished their question list.",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "created_total",
			Help: "Sessions created by hosts.",
		}),
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "started_total",
			Help: "Sessions started.",
		}),
		sessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "ended_total",
			Help: "Sessions ended by hosts.",
		}),
		activeRooms: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "room", Name: "active",
			Help: "Rooms currently holding state.",
		}, func() float64 {
			if rooms == nil {
				return 0
			}
			return float64(rooms.RoomCount())
		}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transport", Name: "ws_connections",
			Help: "Open websocket connections.",
		}),
	}
}

func (m *Metrics) Join() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) AnswerAccepted() {
	if m != nil {
		m.answersAccepted.Inc()
	}
}

func (m *Metrics) AnswerDuplicate() {
	if m != nil {
		m.answersDuplicate.Inc()
	}
}

func (m *Metrics) Completion() {
	if m != nil {
		m.completions.Inc()
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.sessionsEnded.Inc()
	}
}

func (m *Metrics) WSOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) WSClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}
