package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageItemDone  Stage = "ITEM_DONE"
	StageItemRetry Stage = "ITEM_RETRY"
	StagePause     Stage = "RUN_PAUSE"
	StageRunDone   Stage = "RUN_DONE"
)

// Event is one milestone of a harvest run.
type Event struct {
	RunID  string
	TS     time.Time
	Stage  Stage
	Source string
	// ItemID is set for item stages.
	ItemID string
	// Status is the terminal result status for StageItemDone.
	Status     harvest.ResultStatus
	StatusCode int
	Attempt    int
	// Total and Done describe the work set for StageRunStart: Done items were already
	// processed before the run started and Total includes them.
	Total int
	Done  int
	// Dur is the backoff for retries, the pause length for pauses and the run time for StageRunDone.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Total < e.Done {
			return errors.New("run start has more done than total items")
		}
	case StageItemDone:
		if e.ItemID == "" {
			return errors.New("item done requires item id")
		}
		if e.Status == "" {
			return errors.New("item done requires status")
		}
	case StageItemRetry:
		if e.ItemID == "" {
			return errors.New("item retry requires item id")
		}
	case StagePause, StageRunDone:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
