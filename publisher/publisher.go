// Package publisher sends session progress to an MQTT broker so a test
// rack can be watched remotely.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTopicPrefix is the topic prefix used when none is configured.
const DefaultTopicPrefix = "pwrtest"

// Message is a single MQTT publish request.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Publisher is the minimal interface used to send MQTT messages. The real
// MQTT client and FakePublisher both implement it.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// Config holds the broker connection parameters.
type Config struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QOS       byte
	TLSCACert string
}

// Topics builds the topics of one board: <prefix>/<board>/<name>.
type Topics struct {
	Prefix string
	Board  string
}

func (t Topics) topic(name string) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s/%s/%s", prefix, t.Board, name)
}

func (t Topics) Battery() string { return t.topic("battery") }
func (t Topics) Charge() string { return t.topic("charge") }
func (t Topics) Test() string { return t.topic("test") }
func (t Topics) Session() string { return t.topic("session") }
func (t Topics) Status() string { return t.topic("status") }

// OnlineState is the LWT / online-announcement payload.
type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// FormatOnline returns the JSON payload for the online announcement.
func FormatOnline(now time.Time) string {
	return formatOnlineState(true, now)
}

// FormatOffline returns the JSON payload for the offline announcement.
func FormatOffline(now time.Time) string {
	return formatOnlineState(false, now)
}

func formatOnlineState(online bool, now time.Time) string {
	payload, _ := json.Marshal(OnlineState{
		Online:    online,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return string(payload)
}
