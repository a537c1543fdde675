// Package output renders checkpoint records into artifacts and announces them.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/hash/sha256"
)

// Artifact names written for every source.
const (
	ResultsFile = "results.json"
	SummaryFile = "summary.json"
)

// Config controls where artifacts go.
type Config struct {
	Source string
	// Topic receives a Notice after every render. Empty disables notifications.
	Topic string
}

// Summary is the aggregate view written next to the results.
type Summary struct {
	Source      string    `json:"source"`
	RunID       string    `json:"run_id,omitempty"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	NotFound    int       `json:"not_found"`
	Failed      int       `json:"failed"`
	Remaining   int       `json:"remaining"`
	Complete    bool      `json:"complete"`
	LastUpdated time.Time `json:"last_updated"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Notice is published after artifacts are written.
type Notice struct {
	Summary   Summary            `json:"summary"`
	Artifacts []harvest.Artifact `json:"artifacts"`
}

// JSONMaterializer writes results.json and summary.json to a blob store.
type JSONMaterializer struct {
	cfg       Config
	store     harvest.BlobStore
	publisher harvest.Publisher
	clock     harvest.Clock
	logger    *zap.Logger
}

// NewJSONMaterializer builds a materializer. publisher may be nil.
func NewJSONMaterializer(
	cfg Config,
	store harvest.BlobStore,
	publisher harvest.Publisher,
	clock harvest.Clock,
	logger *zap.Logger,
) (*JSONMaterializer, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONMaterializer{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Summarize derives the summary for record.
func Summarize(source string, record *harvest.Record, now time.Time) Summary {
	stats := record.Stats
	return Summary{
		Source:      source,
		RunID:       record.RunID,
		Total:       stats.Total,
		Processed:   record.Len(),
		Succeeded:   stats.Succeeded,
		NotFound:    stats.NotFound,
		Failed:      stats.Failed,
		Remaining:   stats.Remaining(),
		Complete:    stats.Total > 0 && stats.Remaining() == 0,
		LastUpdated: record.LastUpdated,
		GeneratedAt: now,
	}
}

// Render writes the artifacts. A failed notification is logged and does not fail the render.
func (m *JSONMaterializer) Render(ctx context.Context, record *harvest.Record) ([]harvest.Artifact, error) {
	if record == nil {
		return nil, fmt.Errorf("record is required")
	}
	results := record.Results
	if results == nil {
		results = []harvest.Result{}
	}
	summary := Summarize(m.cfg.Source, record, m.clock.Now())

	var artifacts []harvest.Artifact
	for _, item := range []struct {
		name  string
		value any
	}{
		{ResultsFile, results},
		{SummaryFile, summary},
	} {
		data, err := json.MarshalIndent(item.value, "", "  ")
		if err != nil {
			return artifacts, fmt.Errorf("marshal %s: %w", item.name, err)
		}
		uri, err := m.store.PutObject(ctx, path.Join(m.cfg.Source, item.name), "application/json", bytes.NewReader(data))
		if err != nil {
			return artifacts, fmt.Errorf("write %s: %w", item.name, err)
		}
		artifacts = append(artifacts, harvest.Artifact{
			Name:     item.name,
			URI:      uri,
			Bytes:    len(data),
			Checksum: sha256.Checksum(data),
		})
	}

	if m.publisher != nil && m.cfg.Topic != "" {
		id, err := m.publisher.Publish(ctx, m.cfg.Topic, Notice{Summary: summary, Artifacts: artifacts})
		if err != nil {
			m.logger.Warn("Failed to publish artifact notice", zap.String("topic", m.cfg.Topic), zap.Error(err))
		} else {
			m.logger.Debug("Published artifact notice", zap.String("topic", m.cfg.Topic), zap.String("message_id", id))
		}
	}
	return artifacts, nil
}
