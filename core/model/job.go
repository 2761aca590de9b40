package model

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an operational job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobOffered    JobStatus = "offered"
	JobAssigned   JobStatus = "assigned"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// Locked reports whether the job already belongs to a staff member. The
// acceptance path must never overwrite a job in a locked state.
func (s JobStatus) Locked() bool {
	return s == JobAssigned || s == JobInProgress || s == JobCompleted
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobOffered, JobAssigned, JobInProgress, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Job is a unit of operational work at a property (cleaning, maintenance,
// check-in...) that needs exactly one staff member.
type Job struct {
	ID                    string        `json:"id"`
	PropertyID            string        `json:"property_id"`
	RequiredRole          string        `json:"required_role"`
	Status                JobStatus     `json:"status"`
	AssignedStaffID       string        `json:"assigned_staff_id,omitempty"`
	OfferIDActive         string        `json:"offer_id_active,omitempty"`
	ScheduledStart        time.Time     `json:"scheduled_start"`
	EstimatedDuration     time.Duration `json:"estimated_duration"`
	AssignedAt            *time.Time    `json:"assigned_at,omitempty"`
	NeedsManualAssignment bool          `json:"needs_manual_assignment"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Dispatchable reports whether a new offer may be opened for the job.
func (j Job) Dispatchable() bool {
	return j.Status == JobPending && j.OfferIDActive == "" && j.AssignedStaffID == ""
}

// Validate checks the structural invariants of a job record.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.RequiredRole == "" {
		return fmt.Errorf("job %s: required role is required", j.ID)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if j.Status.Locked() != (j.AssignedStaffID != "") {
		return fmt.Errorf("job %s: assigned staff must be set only in assigned, in_progress or completed state", j.ID)
	}
	if j.OfferIDActive != "" && j.Status == JobPending {
		return fmt.Errorf("job %s: pending job cannot reference an active offer", j.ID)
	}
	return nil
}
