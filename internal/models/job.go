package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

type Job struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Status     JobStatus       `json:"status" db:"status"`
	Source     string          `json:"source" db:"source"`
	Progress   float64         `json:"progress" db:"progress"`
	Error      string          `json:"error,omitempty" db:"error"`
	AnalysisID *uuid.UUID      `json:"analysis_id,omitempty" db:"analysis_id"`
	Result     json.RawMessage `json:"result,omitempty" db:"-"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// JobTask is the message published to NATS for worker processing.
// Exactly one of MediaKey and URL is set.
type JobTask struct {
	JobID     uuid.UUID `json:"job_id"`
	Filename  string    `json:"filename"`
	MediaKey  string    `json:"media_key,omitempty"` // MinIO object key of the upload
	URL       string    `json:"url,omitempty"`
	MaxFrames int       `json:"max_frames"`
	CreatedAt time.Time `json:"created_at"`
}

type JobEventType string

const (
	EventStatus   JobEventType = "status"
	EventProgress JobEventType = "progress"
	EventResult   JobEventType = "result"
)

// JobEvent is published on events.jobs.<id> and relayed to websocket clients.
type JobEvent struct {
	Type      JobEventType    `json:"type"`
	JobID     uuid.UUID       `json:"job_id"`
	Status    JobStatus       `json:"status"`
	Progress  float64         `json:"progress"`
	Done      int             `json:"done,omitempty"`
	Total     int             `json:"total,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type ControlAction string

const ControlCancel ControlAction = "cancel"

// ControlCommand travels on core NATS jobs.control.
type ControlCommand struct {
	Action ControlAction `json:"action"`
	JobID  uuid.UUID     `json:"job_id"`
}
