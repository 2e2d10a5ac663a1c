package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindElicit      Kind = "elicit"
	KindRadar       Kind = "radar"
	KindRadarUSB    Kind = "radar_usb"
	KindTubeTrailer Kind = "tube_trailer"

	trailerDiscriminator = "sensor_node5"
	trailerNodePrefix    = "sensor_node"
)

// Value is a payload scalar. Gateways send the same field as a JSON string on
// some firmware and as a number on others, so both decode to the string form.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}

	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("expected scalar, got %s", string(b))
	}

	*v = Value(b)
	return nil
}

func (v Value) String() string {
	return string(v)
}

type ElicitData struct {
	Date        Value `json:"date"`
	RSSI        Value `json:"rssi"`
	Address     Value `json:"address"`
	Battery     Value `json:"battery"`
	Event       Value `json:"event"`
	ElementType Value `json:"elementType,omitempty"`
	EventType   Value `json:"event_type,omitempty"`
}

type RadarData struct {
	Heart       Value `json:"heart"`
	Breath      Value `json:"breath"`
	Presence    Value `json:"presence"`
	DetectCount Value `json:"detect_count"`
	Range       Value `json:"range"`
	Fall        Value `json:"fall"`
	RadarRSSI   Value `json:"radar_rssi"`
	DeviceIP    Value `json:"device_ip"`
	MacAddress  Value `json:"mac_address"`
	UID         Value `json:"uid"`
}

// TrailerData keeps every sensor_node* reading as received alongside the
// gateway timestamp used to pick the newest report.
type TrailerData struct {
	Timetbl     string                     `json:"timetbl"`
	SensorNodes map[string]json.RawMessage `json:"sensor_nodes"`
}

// Record is one update from the feed. Kind is fixed when the record is decoded
// from the highest precedence key present. The typed payloads are decoded
// independently, so a payload carrying both address and heart is both an
// elicit and a radar reading.
type Record struct {
	TopicID    string
	Kind       Kind
	Elicit     *ElicitData
	Radar      *RadarData
	Trailer    *TrailerData
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// Decode builds a Record from a topic and its JSON payload, choosing the kind
// from the keys present in the payload.
func Decode(topicID string, data []byte, receivedAt time.Time) (Record, error) {
	rec := Record{
		TopicID:    topicID,
		Kind:       KindUnknown,
		Raw:        append(json.RawMessage(nil), data...),
		ReceivedAt: receivedAt,
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("unmarshalling payload for topic %s: %w", topicID, err)
	}

	if present(fields, "heart") {
		var r RadarData
		if err := json.Unmarshal(data, &r); err != nil {
			return Record{}, fmt.Errorf("unmarshalling radar payload: %w", err)
		}
		rec.Radar = &r
	}
	if has(fields, trailerDiscriminator) {
		t, err := decodeTrailer(fields)
		if err != nil {
			return Record{}, err
		}
		rec.Trailer = &t
	}
	if has(fields, "address") {
		var e ElicitData
		if err := json.Unmarshal(data, &e); err != nil {
			return Record{}, fmt.Errorf("unmarshalling elicit payload: %w", err)
		}
		rec.Elicit = &e
	}

	switch {
	case rec.Radar != nil:
		rec.Kind = KindRadar
	case has(fields, "BR") || has(fields, "cuid"):
		rec.Kind = KindRadarUSB
	case rec.Trailer != nil:
		rec.Kind = KindTubeTrailer
	case rec.Elicit != nil:
		rec.Kind = KindElicit
	}

	return rec, nil
}

func decodeTrailer(fields map[string]json.RawMessage) (TrailerData, error) {
	t := TrailerData{SensorNodes: make(map[string]json.RawMessage)}
	if raw, ok := fields["timetbl"]; ok {
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return TrailerData{}, fmt.Errorf("unmarshalling timetbl: %w", err)
		}
		t.Timetbl = v.String()
	}

	for k, v := range fields {
		if strings.HasPrefix(k, trailerNodePrefix) {
			t.SensorNodes[k] = v
		}
	}
	return t, nil
}

// present reports whether key appears at all, null included.
func present(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

// has reports whether key carries a value: an explicit null counts as absent.
func has(fields map[string]json.RawMessage, key string) bool {
	v, ok := fields[key]
	if !ok {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// DigitsOf returns the integer formed by the digits of s, or 0 when s has none.
func DigitsOf(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
