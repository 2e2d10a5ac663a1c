package telemetry

import (
	"encoding/json"
	"time"
)

type Class string

const (
	ClassDoor        Class = "door"
	ClassButton      Class = "button"
	ClassRadar       Class = "radar"
	ClassTubeTrailer Class = "tube_trailer"

	doorEventType = "3"
)

// Device is a record grouped under its gateway. It is built fresh by each
// classification pass and never modified afterwards.
type Device struct {
	TopicID    string
	RouterID   string
	DeviceID   string
	Class      Class
	Elicit     *ElicitData
	Radar      *RadarData
	Trailer    *TrailerData
	ReceivedAt time.Time
}

func (d Device) Key() string {
	return d.RouterID + topicSeparator + d.DeviceID
}

// Label is the device type shown on the dashboard. Door and button reports
// share a payload and are told apart by event type 3.
func (d Device) Label() string {
	if d.Elicit != nil {
		if d.Elicit.EventType.String() == doorEventType {
			return string(ClassDoor)
		}
		return string(ClassButton)
	}
	return string(d.Class)
}

// SearchID is the hardware identifier matched by the dashboard search box.
func (d Device) SearchID() string {
	switch {
	case d.Elicit != nil:
		return d.Elicit.Address.String()
	case d.Radar != nil:
		return d.Radar.UID.String()
	}
	return ""
}

type deviceJSON struct {
	TopicID    string      `json:"topic_id"`
	RouterID   string      `json:"router_id"`
	DeviceID   string      `json:"device_id"`
	Class      Class       `json:"class"`
	Label      string      `json:"label"`
	Data       interface{} `json:"data"`
	ReceivedAt time.Time   `json:"received_at"`
}

func (d Device) MarshalJSON() ([]byte, error) {
	out := deviceJSON{
		TopicID:    d.TopicID,
		RouterID:   d.RouterID,
		DeviceID:   d.DeviceID,
		Class:      d.Class,
		Label:      d.Label(),
		ReceivedAt: d.ReceivedAt,
	}
	switch {
	case d.Elicit != nil:
		out.Data = d.Elicit
	case d.Radar != nil:
		out.Data = d.Radar
	case d.Trailer != nil:
		out.Data = d.Trailer
	}
	return json.Marshal(out)
}
