package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pwrtest/pwrtest/model"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestReporter(pub Publisher) *StatusReporter {
	r := NewStatusReporter(zerolog.Nop(), pub, Topics{Prefix: "lab", Board: "caroline"})
	r.now = func() time.Time { return fixedNow }
	return r
}

func decode[T any](t *testing.T, payload string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(payload), &v))
	return v
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "lab", Board: "caroline"}
	require.Equal(t, "lab/caroline/battery", topics.Battery())
	require.Equal(t, "lab/caroline/charge", topics.Charge())
	require.Equal(t, "lab/caroline/test", topics.Test())
	require.Equal(t, "lab/caroline/session", topics.Session())
	require.Equal(t, "lab/caroline/status", topics.Status())

	require.Equal(t, "pwrtest/eve/status", Topics{Board: "eve"}.Status())
}

func TestStatusReporter_Charge(t *testing.T) {
	pub := &FakePublisher{}
	r := newTestReporter(pub)

	r.ChargeStarted(20, 30, 50)
	r.ChargeProgress(35, 50)
	r.ChargeFinished(50, 50)

	battery := pub.Filter("lab/caroline/battery")
	require.Len(t, battery, 2)
	require.Equal(t, "20", battery[0].Payload)
	require.Equal(t, "35", battery[1].Payload)
	require.True(t, battery[0].Retained)

	charge := pub.Filter("lab/caroline/charge")
	require.Len(t, charge, 3)
	require.Equal(t, ChargeEvent{
		Phase: "started", Percent: 20, From: 30, To: 50, Timestamp: "2024-05-01T12:00:00Z",
	}, decode[ChargeEvent](t, charge[0].Payload))
	require.Equal(t, "progress", decode[ChargeEvent](t, charge[1].Payload).Phase)
	require.Equal(t, "finished", decode[ChargeEvent](t, charge[2].Payload).Phase)
}

func TestStatusReporter_Tests(t *testing.T) {
	pub := &FakePublisher{}
	r := newTestReporter(pub)
	battery := 41

	r.TestStarted(1, 2, "power_Idle")
	r.TestFinished(model.TestResult{
		Name:         "power_Idle",
		Index:        1,
		Elapsed:      90 * time.Second,
		ExitCode:     1,
		BatteryAfter: &battery,
	})

	events := pub.Filter("lab/caroline/test")
	require.Len(t, events, 2)
	require.Equal(t, TestEvent{
		Phase: "started", Index: 1, Total: 2, Name: "power_Idle", Timestamp: "2024-05-01T12:00:00Z",
	}, decode[TestEvent](t, events[0].Payload))

	finished := decode[TestEvent](t, events[1].Payload)
	require.Equal(t, 1, finished.ExitCode)
	require.Equal(t, 90.0, finished.ElapsedSeconds)
	require.NotNil(t, finished.BatteryAfter)
	require.Equal(t, 41, *finished.BatteryAfter)

	require.Len(t, pub.Filter("lab/caroline/battery"), 1)
}

func TestStatusReporter_Session(t *testing.T) {
	pub := &FakePublisher{}
	r := newTestReporter(pub)

	r.Online()
	r.SessionFinished(time.Hour, errors.New("protocol violation"))
	r.Offline()

	status := pub.Filter("lab/caroline/status")
	require.Len(t, status, 2)
	require.True(t, decode[OnlineState](t, status[0].Payload).Online)
	require.False(t, decode[OnlineState](t, status[1].Payload).Online)
	require.True(t, status[1].Retained)

	session := pub.Filter("lab/caroline/session")
	require.Len(t, session, 1)
	require.Equal(t, SessionEvent{
		Status:         "aborted",
		ElapsedSeconds: 3600,
		Error:          "protocol violation",
		Timestamp:      "2024-05-01T12:00:00Z",
	}, decode[SessionEvent](t, session[0].Payload))
}

func TestStatusReporter_PublishErrorsAreNotFatal(t *testing.T) {
	pub := &FakePublisher{PublishError: errors.New("broker gone")}
	r := newTestReporter(pub)

	require.NotPanics(t, func() {
		r.ChargeStarted(10, 30, 50)
		r.TestStarted(1, 1, "A")
		r.SessionFinished(time.Second, nil)
	})
	require.Empty(t, pub.Messages)
}
