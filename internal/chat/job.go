package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ReplyJob tracks one pending assistant reply. The HTTP layer records it
// after the user message is appended and publishes its id; the worker
// resolves it by appending the assistant message.
type ReplyJob struct {
	ID string `gorm:"primaryKey;type:varchar(36)"` // UUID

	Owner     string `gorm:"type:varchar(64);index;not null"`
	SessionID string `gorm:"type:varchar(26);index;not null"`

	Prompt string `gorm:"type:text;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReplyJob) TableName() string { return "reply_jobs" }
