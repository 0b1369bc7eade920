package notifications

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type classifies a notification for presentation purposes
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// validType reports whether a payload type is one of the recognized values
func validType(t Type) bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeError:
		return true
	}
	return false
}

// Message is a notification admitted to the in-memory collection. The
// ID is the broker-assigned dedup key; Read is derived from the
// read-state cache at load time and mutated only via ReadMessages.
type Message struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Type    Type      `json:"type"`
	Title   string    `json:"title"`
	Body    string    `json:"message"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

// Payload is the JSON body of a notification on the wire
type Payload struct {
	Type    Type   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

// decodeMessage builds a Message from a raw payload, enforcing the
// validity invariant: parseable date, non-empty title, recognized type.
func decodeMessage(subject, id string, data []byte) (Message, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Message{}, fmt.Errorf("malformed payload: %w", err)
	}

	date, err := time.Parse(time.RFC3339, p.Date)
	if err != nil {
		return Message{}, fmt.Errorf("unparseable date %q: %w", p.Date, err)
	}
	if p.Title == "" {
		return Message{}, fmt.Errorf("empty title")
	}
	if !validType(p.Type) {
		return Message{}, fmt.Errorf("unrecognized type %q", p.Type)
	}

	return Message{
		ID:      id,
		Subject: subject,
		Type:    p.Type,
		Title:   p.Title,
		Body:    p.Message,
		Date:    date,
	}, nil
}

// live reports whether a message falls inside the liveness window at
// the moment it is processed. Slight clock skew toward the future still
// counts as live.
func (m Message) live(now time.Time, window time.Duration) bool {
	d := now.Sub(m.Date)
	if d < 0 {
		d = -d
	}
	return d <= window
}
