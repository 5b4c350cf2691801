package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

type ScrapeRun struct {
	ID          int64      `json:"id" db:"id"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	Status      RunStatus  `json:"status" db:"status"`
	Listed      int        `json:"listed" db:"listed"`
	Parsed      int        `json:"parsed" db:"parsed"`
	New         int        `json:"new" db:"new_count"`
	Updated     int        `json:"updated" db:"updated_count"`
	Deactivated int        `json:"deactivated" db:"deactivated_count"`
	Skipped     int        `json:"skipped" db:"skipped_count"`
	Changed     int        `json:"changed" db:"changed_count"`
	ErrorsCount int        `json:"errors_count" db:"errors_count"`
}

// Finish copies the result counters onto the run record
func (r *ScrapeRun) Finish(res *ReconcileResult, status RunStatus, at time.Time) {
	r.FinishedAt = &at
	r.Status = status
	r.Parsed = res.Parsed
	r.New = res.New
	r.Updated = res.Updated
	r.Deactivated = res.Deactivated
	r.Skipped = res.Skipped
	r.Changed = res.Changed
	r.ErrorsCount = len(res.Errors)
}

// RunReport is a run record together with the log lines it wrote
type RunReport struct {
	ScrapeRun
	Logs []ScrapeLog `json:"logs"`
}
