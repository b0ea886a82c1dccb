package domain

import "time"

// Operation names a priced action.
type Operation string

const (
	OperationPhotoGeneration Operation = "photo_generation"
	OperationRegeneration    Operation = "regeneration"
	OperationDescription     Operation = "description"
	OperationEdit            Operation = "edit"
	OperationVideo           Operation = "video"
)

// Operations lists every priced operation.
var Operations = []Operation{
	OperationPhotoGeneration,
	OperationRegeneration,
	OperationDescription,
	OperationEdit,
	OperationVideo,
}

// Ledger reasons recorded on token transactions.
const (
	ReasonJobCharge       = "generation charge"
	ReasonCompensation    = "compensation: job creation failed"
	ReasonTimeoutRefund   = "timeout refund"
	ReasonFailureRefund   = "failed units refund"
	ReasonVideoFailRefund = "video generation failed refund"
	ReasonManualGrant     = "manual grant"
)

// TokenTransaction is an append-only ledger entry. Amount is negative for spends.
type TokenTransaction struct {
	ID           string
	UserID       string
	Amount       int
	Reason       string
	JobID        string
	BalanceAfter int
	CreatedAt    time.Time
}
