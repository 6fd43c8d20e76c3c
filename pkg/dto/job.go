package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type JobResponse struct {
	ID         uuid.UUID       `json:"id"`
	Status     string          `json:"status"`
	Source     string          `json:"source"`
	Progress   float64         `json:"progress"`
	Error      string          `json:"error,omitempty"`
	AnalysisID *uuid.UUID      `json:"analysis_id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type JobCreatedResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// WSEvent is pushed to websocket clients.
type WSEvent struct {
	Type  string    `json:"type"`
	JobID uuid.UUID `json:"job_id"`
	Data  any       `json:"data"`
}
