package model

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type AccountResult struct {
	AccountID int           `json:"accountId"`
	Name      string        `json:"name"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"durationNs"`
}

type RunSummary struct {
	RunID          string          `json:"runId"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
	Total          int             `json:"total"`
	SuccessCount   int             `json:"successCount"`
	FailedAccounts []string        `json:"failedAccounts"`
	Duration       time.Duration   `json:"durationNs"`
	Results        []AccountResult `json:"results"`
}

type Summary struct {
	TotalAccounts    int            `json:"totalAccounts"`
	EnabledAccounts  int            `json:"enabledAccounts"`
	StatusCounts     map[string]int `json:"statusCounts"`
	SchedulerRunning bool           `json:"schedulerRunning"`
	RunInProgress    bool           `json:"runInProgress"`
}
