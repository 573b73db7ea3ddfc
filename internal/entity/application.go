package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
)

// Application is one unit of work: a single uploaded resume tracked
// through the pipeline. Exactly one of {ExtractedData+Embedding,
// FailedReason, neither} is present, correlated with Status.
type Application struct {
	ID               uuid.UUID
	OriginalFilename string
	StorageRef       string
	Status           constants.ApplicationStatus
	FailedReason     *string
	ExtractedData    json.RawMessage
	Embedding        []float32
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
