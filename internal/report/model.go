package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the report lifecycle. Labs move reports forward; patients only
// ever see ready reports.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusArchived:
		return true
	}
	return false
}

// Report is owned by a lab and associated to a patient either by user id or,
// for patients without an account yet, by bare phone number. The storage
// pointer is opaque; signed-URL retrieval is the object store's concern.
type Report struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	LabID         uuid.UUID  `db:"lab_id" json:"lab_id"`
	PatientUserID *uuid.UUID `db:"patient_user_id" json:"patient_user_id,omitempty"`
	PatientPhone  string     `db:"patient_phone" json:"patient_phone,omitempty"`
	Title         string     `db:"title" json:"title"`
	StoragePath   string     `db:"storage_path" json:"storage_path"`
	Status        Status     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Grant lets a non-owner user view a report. Created on invite redemption
// or explicit share.
type Grant struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ReportID  uuid.UUID `db:"report_id" json:"report_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

var (
	ErrNotFound     = errors.New("report not found")
	ErrAccessDenied = errors.New("report not accessible")
	// ErrShareInvalid covers unknown and expired share tokens alike.
	ErrShareInvalid = errors.New("invalid or expired share token")
)
