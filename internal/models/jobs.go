package models

import "time"

// Job names, used as scheduler and single-flight keys.
const (
	JobProcessTransactions = "process_transactions"
	JobImportSplitwise     = "import_splitwise"
)

// BatchResult summarises one periodic processing run.
type BatchResult struct {
	Applied          int           `json:"applied"`
	TemplatesSeen    int           `json:"templates_seen"`
	InstancesCreated int           `json:"instances_created"`
	Skipped          int           `json:"skipped"`
	Attempts         int           `json:"attempts"`
	Duration         time.Duration `json:"duration"`
}

// ImportResult summarises one Splitwise sync.
type ImportResult struct {
	Watermark  time.Time     `json:"watermark"`
	Fetched    int           `json:"fetched"`
	Candidates int           `json:"candidates"`
	Reverted   int           `json:"reverted"`
	Rederived  int           `json:"rederived"`
	Cleared    int           `json:"cleared"`
	Pending    int           `json:"pending"`
	Deferred   int           `json:"deferred"`
	Duration   time.Duration `json:"duration"`
}

// JobRun is the last outcome of a scheduled job, reported by the health endpoint.
type JobRun struct {
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}
