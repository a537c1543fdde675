package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/progress"
)

// RunNotice is the message published for run-level milestones.
type RunNotice struct {
	RunID   string        `json:"run_id"`
	Source  string        `json:"source"`
	Stage   string        `json:"stage"`
	TS      time.Time     `json:"ts"`
	Total   int           `json:"total,omitempty"`
	Done    int           `json:"done,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
	Note    string        `json:"note,omitempty"`
}

// PublishSink forwards run start, pause and completion events to a topic. Item events are ignored.
type PublishSink struct {
	publisher harvest.Publisher
	topic     string
}

// NewPublishSink builds a PublishSink.
func NewPublishSink(publisher harvest.Publisher, topic string) (*PublishSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &PublishSink{publisher: publisher, topic: topic}, nil
}

// Consume publishes the run-level events in batch, stopping at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StagePause, progress.StageRunDone:
		default:
			continue
		}
		notice := RunNotice{
			RunID:   evt.RunID,
			Source:  evt.Source,
			Stage:   string(evt.Stage),
			TS:      evt.TS,
			Total:   evt.Total,
			Done:    evt.Done,
			Elapsed: evt.Dur,
			Note:    evt.Note,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, notice); err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
