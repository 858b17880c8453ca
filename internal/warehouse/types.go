package warehouse

import "time"

// BatchResult reports the outcome of a batch insert.
type BatchResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}

// Stats summarizes warehouse contents.
type Stats struct {
	TotalEmails  int64 `json:"total_emails"`
	Sources      int64 `json:"sources"`
	LastRotation int64 `json:"last_rotation"`
}
