package publisher

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/model"
)

// ChargeEvent is the payload of the charge topic.
type ChargeEvent struct {
	Phase     string `json:"phase"`
	Percent   int    `json:"percent"`
	From      int    `json:"from,omitempty"`
	To        int    `json:"to"`
	Timestamp string `json:"timestamp"`
}

// TestEvent is the payload of the test topic.
type TestEvent struct {
	Phase          string  `json:"phase"`
	Index          int     `json:"index"`
	Total          int     `json:"total,omitempty"`
	Name           string  `json:"name"`
	ExitCode       int     `json:"exit_code"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	BatteryAfter   *int    `json:"battery_after,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// SessionEvent is the payload of the session topic.
type SessionEvent struct {
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// StatusReporter publishes charge and session progress. Publish failures
// are logged and never interrupt the session.
type StatusReporter struct {
	logger zerolog.Logger
	pub    Publisher
	topics Topics
	now    func() time.Time
}

func NewStatusReporter(logger zerolog.Logger, pub Publisher, topics Topics) *StatusReporter {
	return &StatusReporter{
		logger: logger,
		pub:    pub,
		topics: topics,
		now:    time.Now,
	}
}

// Online announces the session on the retained status topic.
func (s *StatusReporter) Online() {
	s.publish(Message{Topic: s.topics.Status(), Payload: FormatOnline(s.now()), Retained: true})
}

// Offline clears the online announcement.
func (s *StatusReporter) Offline() {
	s.publish(Message{Topic: s.topics.Status(), Payload: FormatOffline(s.now()), Retained: true})
}

func (s *StatusReporter) ChargeStarted(current, from, to int) {
	s.battery(current)
	s.publishJSON(s.topics.Charge(), ChargeEvent{
		Phase: "started", Percent: current, From: from, To: to, Timestamp: s.timestamp(),
	})
}

func (s *StatusReporter) ChargeProgress(current, to int) {
	s.battery(current)
	s.publishJSON(s.topics.Charge(), ChargeEvent{
		Phase: "progress", Percent: current, To: to, Timestamp: s.timestamp(),
	})
}

func (s *StatusReporter) ChargeFinished(current, to int) {
	s.publishJSON(s.topics.Charge(), ChargeEvent{
		Phase: "finished", Percent: current, To: to, Timestamp: s.timestamp(),
	})
}

func (s *StatusReporter) TestStarted(index, total int, name string) {
	s.publishJSON(s.topics.Test(), TestEvent{
		Phase: "started", Index: index, Total: total, Name: name, Timestamp: s.timestamp(),
	})
}

func (s *StatusReporter) TestFinished(r model.TestResult) {
	if r.BatteryAfter != nil {
		s.battery(*r.BatteryAfter)
	}
	s.publishJSON(s.topics.Test(), TestEvent{
		Phase:          "finished",
		Index:          r.Index,
		Name:           r.Name,
		ExitCode:       r.ExitCode,
		ElapsedSeconds: r.Elapsed.Seconds(),
		BatteryAfter:   r.BatteryAfter,
		Timestamp:      s.timestamp(),
	})
}

func (s *StatusReporter) SessionFinished(elapsed time.Duration, err error) {
	ev := SessionEvent{
		Status:         "finished",
		ElapsedSeconds: elapsed.Seconds(),
		Timestamp:      s.timestamp(),
	}
	if err != nil {
		ev.Status = "aborted"
		ev.Error = err.Error()
	}
	s.publishJSON(s.topics.Session(), ev)
}

func (s *StatusReporter) battery(percent int) {
	s.publish(Message{Topic: s.topics.Battery(), Payload: strconv.Itoa(percent), Retained: true})
}

func (s *StatusReporter) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to marshal MQTT payload")
		return
	}
	s.publish(Message{Topic: topic, Payload: string(payload)})
}

func (s *StatusReporter) publish(msg Message) {
	if err := s.pub.Publish(msg); err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Failed to publish MQTT message")
	}
}

func (s *StatusReporter) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
