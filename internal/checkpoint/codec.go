package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// ErrCorrupt marks a snapshot that exists but cannot be parsed.
var ErrCorrupt = errors.New("checkpoint is corrupt")

// Encode serializes a record into its durable JSON form.
func Encode(record *harvest.Record) ([]byte, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}
	snapshot := record.Clone()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot. An empty payload decodes to an empty record. Records whose ids and
// results drifted apart are rebuilt from the results and reported as repaired.
func Decode(data []byte) (record *harvest.Record, repaired bool, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return harvest.NewRecord(), false, nil
	}
	record = harvest.NewRecord()
	if err := json.Unmarshal(data, record); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if record.ProcessedIDs == nil {
		record.ProcessedIDs = []string{}
	}
	if record.Results == nil {
		record.Results = []harvest.Result{}
	}
	if record.Validate() != nil {
		record.Repair()
		return record, true, nil
	}
	record.Reindex()
	return record, false, nil
}

// decodeOrEmpty applies the shared load contract: corrupt data is logged and replaced by an
// empty record rather than failing the run.
func decodeOrEmpty(logger *zap.Logger, where string, data []byte) (*harvest.Record, bool) {
	record, repaired, err := Decode(data)
	if err != nil {
		logger.Warn("Discarding unreadable checkpoint; starting from an empty record",
			zap.String("location", where), zap.Error(err))
		return harvest.NewRecord(), false
	}
	if repaired {
		logger.Warn("Repaired inconsistent checkpoint",
			zap.String("location", where),
			zap.Int("processed", record.Len()))
	}
	return record, true
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
