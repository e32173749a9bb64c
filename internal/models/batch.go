package models

import "time"

// BatchStatus is the processing state of an uploaded spreadsheet.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchError      BatchStatus = "error"
)

// Batch is one submitted spreadsheet and its aggregate progress.
type Batch struct {
	ID               string      `json:"id"`
	CompanyID        *string     `json:"company_id,omitempty"`
	CreatedBy        *string     `json:"created_by,omitempty"`
	OriginalFilename *string     `json:"original_filename"`
	TotalRecords     int         `json:"total_records"`
	ProcessedRecords int         `json:"processed_records"`
	Status           BatchStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        *time.Time  `json:"updated_at,omitempty"`
}

// Progress returns processed/total clamped to [0,1]; an empty batch reports 0.
func (b Batch) Progress() float64 {
	if b.TotalRecords <= 0 {
		return 0
	}
	p := float64(b.ProcessedRecords) / float64(b.TotalRecords)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// Filename returns the original file name or an empty string.
func (b Batch) Filename() string { return deref(b.OriginalFilename) }
