package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageDateStart    Stage = "DATE_START"
	StageURLDone      Stage = "URL_DONE"
	StageBatchFlushed Stage = "BATCH_FLUSHED"
	StageBatchFailed  Stage = "BATCH_FAILED"
	StageDateDone     Stage = "DATE_DONE"
)

// Event is one milestone of an archive run.
type Event struct {
	// RunID groups every event of one CLI invocation.
	RunID uuid.UUID
	TS    time.Time
	Stage Stage
	// Date is the YYYYMMDD publication date being processed.
	Date string
	// URL, Status, HTTPStatus and Attempts describe a URL_DONE outcome.
	URL        string
	Status     store.Status
	HTTPStatus int
	Attempts   int
	// Count is the batch size for batch stages.
	Count int
	Dur   time.Duration
	Note  string
	// Summary is set on DATE_DONE.
	Summary *store.DailyProgress
}

// Validate performs coarse checks before an event enters the hub.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if len(e.Date) != 8 {
		return fmt.Errorf("date %q must be YYYYMMDD", e.Date)
	}
	switch e.Stage {
	case StageDateStart:
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if !e.Status.Valid() {
			return fmt.Errorf("url done has invalid status %q", e.Status)
		}
	case StageBatchFlushed, StageBatchFailed:
		if e.Count < 0 {
			return errors.New("batch count must be >= 0")
		}
	case StageDateDone:
		if e.Summary == nil {
			return errors.New("date done requires summary")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
