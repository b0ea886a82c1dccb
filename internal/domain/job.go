package domain

import (
	"encoding/json"
	"time"
)

// JobKind enumerates supported generation request categories.
type JobKind string

const (
	JobKindPhotoSet    JobKind = "photo_set"
	JobKindRegenerate  JobKind = "regenerate"
	JobKindDescription JobKind = "description"
	JobKindEdit        JobKind = "edit"
	JobKindVideo       JobKind = "video"
)

// Valid reports whether the kind is one of the supported values.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindPhotoSet, JobKindRegenerate, JobKindDescription, JobKindEdit, JobKindVideo:
		return true
	}
	return false
}

// Operation maps a job kind to the pricing operation it is charged as.
func (k JobKind) Operation() Operation {
	switch k {
	case JobKindPhotoSet:
		return OperationPhotoGeneration
	case JobKindRegenerate:
		return OperationRegeneration
	case JobKindDescription:
		return OperationDescription
	case JobKindEdit:
		return OperationEdit
	case JobKindVideo:
		return OperationVideo
	}
	return Operation(k)
}

// Async reports whether tasks of this kind go through an async provider handle.
func (k JobKind) Async() bool {
	return k == JobKindVideo
}

// MultiUnit reports whether a job of this kind may fan out to more than one task.
func (k JobKind) MultiUnit() bool {
	return k == JobKindPhotoSet
}

// RequiresSource reports whether the kind edits or animates an uploaded image.
func (k JobKind) RequiresSource() bool {
	return k != JobKindDescription
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further mutation is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Payload is the user input captured at job creation.
type Payload struct {
	ProductName      string   `json:"product_name"`
	Category         string   `json:"category,omitempty"`
	Benefits         []string `json:"benefits,omitempty"`
	Description      string   `json:"description,omitempty"`
	EditInstructions string   `json:"edit_instructions,omitempty"`
	SourceImages     []string `json:"source_images,omitempty"`
	UnitType         string   `json:"unit_type,omitempty"`
	SourceJobID      string   `json:"source_job_id,omitempty"`
}

// PrimarySource returns the first source image URL, if any.
func (p Payload) PrimarySource() string {
	for _, src := range p.SourceImages {
		if src != "" {
			return src
		}
	}
	return ""
}

// Job represents one user-initiated generation request.
type Job struct {
	ID             string
	UserID         string
	Kind           JobKind
	Status         JobStatus
	Provider       string
	Locale         string
	TotalUnits     int
	UnitPrice      int
	TokensCost     int
	TokensRefunded int
	Payload        Payload
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// RefundDue returns how many tokens are still owed back given the completed unit count.
// It is never negative and never exceeds what has not been refunded yet.
func (j Job) RefundDue(completedUnits int) int {
	due := j.TokensCost - completedUnits*j.UnitPrice - j.TokensRefunded
	if due < 0 {
		return 0
	}
	return due
}

// MarshalPayload encodes the payload for jsonb storage.
func (j Job) MarshalPayload() ([]byte, error) {
	return json.Marshal(j.Payload)
}

// JobSummary is the polling view of an active job.
type JobSummary struct {
	JobID          string    `json:"job_id"`
	Kind           JobKind   `json:"kind"`
	Status         JobStatus `json:"status"`
	CompletedUnits int       `json:"completed_units"`
	TotalUnits     int       `json:"total_units"`
	CreatedAt      time.Time `json:"created_at"`
}

// JobHandle is returned to the caller right after a job is created.
type JobHandle struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	TokensCharged int       `json:"tokens_charged"`
}
