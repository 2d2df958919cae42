package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	// StagePage is emitted once a listing page has been filtered.
	StagePage Stage = "PAGE"
	// StageLocator is emitted once per dispatched locator after draining.
	StageLocator Stage = "LOCATOR"
)

// Event captures one milestone of a crawl run.
type Event struct {
	RunID  string
	Source string
	TS     time.Time
	Stage  Stage
	// Page is the listing index for page and locator events.
	Page int
	URL  string
	// Found and Pending count locators on a page before and after filtering.
	Found   int
	Pending int
	// Outcome is the ingest outcome, failure class or stop reason.
	Outcome string
	Dur     time.Duration
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Source == "" {
		return errors.New("source is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageRunDone, StageRunError:
		if e.Outcome == "" {
			return errors.New("run completion requires a stop reason")
		}
	case StagePage:
		if e.Pending > e.Found {
			return errors.New("pending cannot exceed found")
		}
	case StageLocator:
		if e.URL == "" || e.Outcome == "" {
			return errors.New("locator event requires url and outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
