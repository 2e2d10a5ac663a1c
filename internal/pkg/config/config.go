package config

import (
	"encoding/json"
	"time"
)

const (
	DefaultTelemetryTopic = "#"

	DeviceListChannel      = "device/list"
	DeviceHighlightChannel = "device/highlight"

	MetricsFrequency = 1 * time.Minute
)

// LatestRecord is the persisted form of the newest report on a topic.
type LatestRecord struct {
	TopicID    string          `json:"topic_id"`
	Kind       string          `json:"kind"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"received_at"`
}

// HistoryRow is one row of the telemetry history table.
type HistoryRow struct {
	TopicID    string `json:"topic_id"`
	Kind       string `json:"kind"`
	Payload    string `json:"payload"`
	ReceivedAt string `json:"received_at"`
}

type HighlightMessage struct {
	Key       string `json:"key"`
	Active    bool   `json:"active"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
}

type WebsocketMessage struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}
