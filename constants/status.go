package constants

// ApplicationStatus is the canonical lifecycle status for rows in applications.
type ApplicationStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    ApplicationStatus = "PENDING"    // record created, upload not yet confirmed
	StatusQueued     ApplicationStatus = "QUEUED"     // upload confirmed, job enqueued
	StatusProcessing ApplicationStatus = "PROCESSING" // a worker holds the job
	StatusCompleted  ApplicationStatus = "COMPLETED"  // terminal success
	StatusFailed     ApplicationStatus = "FAILED"     // terminal failure
)

// Terminal reports whether the status admits no further transitions.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the five known statuses.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
