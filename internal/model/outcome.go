package model

import "time"

// RowStatus classifies how a single row was reconciled.
type RowStatus string

const (
	RowCreated RowStatus = "created"
	RowUpdated RowStatus = "updated"
	RowFailed  RowStatus = "failed"
)

// BatchStatus summarizes a whole reconciliation batch.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// ReconciliationOutcome is the immutable audit record of one batch.
// Errors holds at most the persisted cap; callers receive a shorter
// preview through Preview.
type ReconciliationOutcome struct {
	ID         string        `json:"id"`
	Source     string        `json:"source"`
	Actor      string        `json:"user"`
	Status     BatchStatus   `json:"status"`
	TotalRows  int           `json:"total_rows"`
	Created    int           `json:"created_rows"`
	Updated    int           `json:"updated_rows"`
	Succeeded  int           `json:"successful_rows"`
	Failed     int           `json:"failed_rows"`
	Errors     []RowError    `json:"errors,omitempty"`
	Duration   time.Duration `json:"processing_time"`
	UploadedAt time.Time     `json:"upload_date"`
}

// Preview returns at most n row errors.
func (o *ReconciliationOutcome) Preview(n int) []RowError {
	if len(o.Errors) <= n {
		return o.Errors
	}
	return o.Errors[:n]
}
