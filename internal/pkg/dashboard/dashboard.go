package dashboard

import (
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/feed"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"go.uber.org/zap"
)

const highlightKindMqtt = "mqtt"

type Query struct {
	Search string
	Filter telemetry.Filter
}

type View struct {
	Devices  []telemetry.Device `json:"devices"`
	Total    int                `json:"total"`
	Search   string             `json:"search,omitempty"`
	NotFound bool               `json:"not_found"`
}

// Service builds dashboard views from a feed. Views are derived again on
// every call, so a changed device id is never served from a stale sort.
type Service struct {
	feed        *feed.Feed
	classifier  telemetry.Classifier
	highlighter *telemetry.Highlighter
	logger      *zap.SugaredLogger
}

func NewService(f *feed.Feed, classifier telemetry.Classifier, highlighter *telemetry.Highlighter, logger *zap.SugaredLogger) *Service {
	return &Service{
		feed:        f,
		classifier:  classifier,
		highlighter: highlighter,
		logger:      logger,
	}
}

// Ingest appends a newly arrived record and flashes the device it belongs to.
// Control and malformed topics are kept in the feed but never flashed, since
// no listed device carries them.
func (s *Service) Ingest(r telemetry.Record) {
	s.feed.Append(r)
	s.logger.Debugw("ingested record", "topic", r.TopicID, "kind", r.Kind)

	if telemetry.IsControlTopic(r.TopicID) {
		return
	}
	key, err := telemetry.TopicKey(r.TopicID)
	if err != nil {
		s.logger.Warnf("not highlighting record: %s", err)
		return
	}
	s.highlighter.Touch(key, highlightKindMqtt)
}

// Devices returns doors, buttons and radar units in display order. A search
// that matches nothing falls back to the unsearched list with NotFound set.
func (s *Service) Devices(q Query) View {
	records := s.feed.Records()
	merged := telemetry.MergeView(
		s.classifier.Doors(records),
		s.classifier.Buttons(records),
		s.classifier.Radar(records),
	)
	devices := q.Filter.Apply(merged)

	view := View{
		Devices: devices,
		Search:  q.Search,
	}
	if q.Search != "" {
		matched := telemetry.Search(devices, q.Search)
		if len(matched) == 0 {
			view.NotFound = true
		} else {
			view.Devices = matched
		}
	}
	view.Total = len(view.Devices)
	return view
}

func (s *Service) Trailers() []telemetry.Device {
	return s.classifier.TubeTrailers(s.feed.Records())
}

func (s *Service) Highlights() map[string]telemetry.Highlight {
	return s.highlighter.Snapshot()
}

func (s *Service) Summary() telemetry.Summary {
	return s.classifier.Summarize(s.feed.Records())
}

func (s *Service) Latest() (telemetry.Record, bool) {
	return s.feed.Latest()
}

func (s *Service) Close() {
	s.highlighter.Close()
}
