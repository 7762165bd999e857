package domain

import "time"

// AttemptOutcome is the result of one processor delivery for a requisition.
type AttemptOutcome string

const (
	AttemptOutcomeCreated   AttemptOutcome = "CREATED"
	AttemptOutcomeSubmitted AttemptOutcome = "SUBMITTED"
	AttemptOutcomeFailed    AttemptOutcome = "FAILED"
	AttemptOutcomeDuplicate AttemptOutcome = "DUPLICATE"
	AttemptOutcomeSkipped   AttemptOutcome = "SKIPPED"
)

func (o AttemptOutcome) String() string { return string(o) }

// Succeeded reports whether the attempt left the requisition in a successful state.
func (o AttemptOutcome) Succeeded() bool {
	return o == AttemptOutcomeCreated || o == AttemptOutcomeSubmitted
}

// RequisitionAttempt records a single delivery attempt against the ERP.
type RequisitionAttempt struct {
	ID            string
	RequisitionID string
	BatchID       string
	AttemptNumber int
	Outcome       AttemptOutcome
	StatusCode    *int
	Error         *string
	CreatedAt     time.Time
}
