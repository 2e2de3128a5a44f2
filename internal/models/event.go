package models

import (
	"encoding/json"
	"time"
)

// LogEntry is the document written to the event log for one inbound webhook
// or outbound REST call.
type LogEntry struct {
	EventName string   `json:"event_name" bson:"event_name"`
	Event     LogEvent `json:"event" bson:"event"`
	Msg       *string  `json:"msg" bson:"msg"`
}

// LogEvent holds the captured request or response. Headers are kept as
// ordered [name, value] pairs.
type LogEvent struct {
	Headers [][]string      `json:"headers" bson:"headers"`
	Payload json.RawMessage `json:"payload" bson:"-"`
}

// StoredLogEntry is the document shape used by non-file event log sinks.
type StoredLogEntry struct {
	Key       string    `bson:"key" json:"key"`
	Category  string    `bson:"category" json:"category"`
	Outcome   string    `bson:"outcome" json:"outcome"`
	TimeStamp time.Time `bson:"timestamp" json:"timestamp"`

	EventName string     `bson:"event_name" json:"event_name"`
	Headers   [][]string `bson:"headers" json:"headers"`
	Payload   any        `bson:"payload" json:"payload"`
	Msg       *string    `bson:"msg" json:"msg"`
}
