package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	doorMarker   = "DOOR"
	buttonMarker = "BTN"
)

// Classifier partitions feed records into device groups. It holds no state
// between calls; every method returns newly built devices.
type Classifier struct {
	logger   *zap.SugaredLogger
	location *time.Location
}

// NewClassifier returns a Classifier that logs dropped records to logger and
// reads trailer timestamps without a zone in loc (UTC when nil).
func NewClassifier(logger *zap.SugaredLogger, loc *time.Location) Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return Classifier{
		logger:   logger,
		location: loc,
	}
}

func (c Classifier) Doors(records []Record) []Device {
	return c.collect(records, ClassDoor, func(r Record) bool {
		return r.Elicit != nil && strings.Contains(r.Elicit.Address.String(), doorMarker)
	})
}

func (c Classifier) Buttons(records []Record) []Device {
	return c.collect(records, ClassButton, func(r Record) bool {
		return r.Elicit != nil && strings.Contains(r.Elicit.Address.String(), buttonMarker)
	})
}

func (c Classifier) Radar(records []Record) []Device {
	return c.collect(records, ClassRadar, func(r Record) bool {
		return r.Radar != nil
	})
}

// TubeTrailers returns the newest trailer report for each gateway.
func (c Classifier) TubeTrailers(records []Record) []Device {
	trailers := c.collect(records, ClassTubeTrailer, func(r Record) bool {
		return r.Trailer != nil
	})
	return LatestPerRouter(trailers, c.location)
}

type Summary struct {
	Doors        int `json:"doors"`
	Buttons      int `json:"buttons"`
	Radar        int `json:"radar"`
	TubeTrailers int `json:"tube_trailers"`
	RadarUSB     int `json:"radar_usb"`
	Control      int `json:"control"`
	Malformed    int `json:"malformed"`
	Unclassified int `json:"unclassified"`
}

// Summarize counts records per device group without building the groups.
// Trailers are counted before deduplication.
func (c Classifier) Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		if IsControlTopic(r.TopicID) {
			s.Control++
			continue
		}

		if r.Kind == KindUnknown {
			s.Unclassified++
			continue
		}

		if _, _, err := ParseTopic(r.TopicID); err != nil {
			s.Malformed++
			continue
		}

		// a record counts once in every group it belongs to
		matched := false
		if r.Radar != nil {
			s.Radar++
			matched = true
		}
		if r.Kind == KindRadarUSB {
			s.RadarUSB++
			matched = true
		}
		if r.Trailer != nil {
			s.TubeTrailers++
			matched = true
		}
		if r.Elicit != nil {
			if strings.Contains(r.Elicit.Address.String(), doorMarker) {
				s.Doors++
				matched = true
			}
			if strings.Contains(r.Elicit.Address.String(), buttonMarker) {
				s.Buttons++
				matched = true
			}
		}
		if !matched {
			s.Unclassified++
		}
	}
	return s
}

func (c Classifier) collect(records []Record, class Class, match func(Record) bool) []Device {
	devices := []Device{}
	for _, r := range records {
		if !match(r) || IsControlTopic(r.TopicID) {
			continue
		}

		d, err := group(r, class)
		if err != nil {
			var malformed *MalformedTopicError
			if errors.As(err, &malformed) {
				c.logger.Warnf("dropping %s record: %s", class, err)
				continue
			}
			c.logger.Errorf("grouping %s record: %s", class, err)
			continue
		}
		devices = append(devices, d)
	}
	return devices
}

func group(r Record, class Class) (Device, error) {
	routerID, deviceID, err := ParseTopic(r.TopicID)
	if err != nil {
		return Device{}, err
	}

	d := Device{
		TopicID:    r.TopicID,
		RouterID:   routerID,
		DeviceID:   deviceID,
		Class:      class,
		ReceivedAt: r.ReceivedAt,
	}

	switch {
	case (class == ClassDoor || class == ClassButton) && r.Elicit != nil:
		e := *r.Elicit
		if e.ElementType != "" {
			e.EventType = e.ElementType
		}
		e.ElementType = ""
		d.Elicit = &e
	case class == ClassRadar && r.Radar != nil:
		radar := *r.Radar
		d.Radar = &radar
	case class == ClassTubeTrailer && r.Trailer != nil:
		t := TrailerData{
			Timetbl:     r.Trailer.Timetbl,
			SensorNodes: make(map[string]json.RawMessage, len(r.Trailer.SensorNodes)),
		}
		for k, v := range r.Trailer.SensorNodes {
			t.SensorNodes[k] = v
		}
		d.Trailer = &t
	}

	return d, nil
}
