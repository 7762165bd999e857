package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RequisitionStatus represents the lifecycle state of a requisition.
type RequisitionStatus string

const (
	RequisitionStatusPending   RequisitionStatus = "PENDING"
	RequisitionStatusCreated   RequisitionStatus = "CREATED"
	RequisitionStatusSubmitted RequisitionStatus = "SUBMITTED"
	RequisitionStatusApproved  RequisitionStatus = "APPROVED"
	RequisitionStatusRejected  RequisitionStatus = "REJECTED"
	RequisitionStatusFailed    RequisitionStatus = "FAILED"
)

func (s RequisitionStatus) String() string { return string(s) }

func (s RequisitionStatus) IsValid() bool {
	switch s {
	case RequisitionStatusPending, RequisitionStatusCreated, RequisitionStatusSubmitted,
		RequisitionStatusApproved, RequisitionStatusRejected, RequisitionStatusFailed:
		return true
	}
	return false
}

// IsSuccessful reports whether the status counts towards a batch's successful items.
func (s RequisitionStatus) IsSuccessful() bool {
	return s == RequisitionStatusCreated || s == RequisitionStatusSubmitted || s == RequisitionStatusApproved
}

// IsProcessed reports whether the processor has finished with the requisition.
func (s RequisitionStatus) IsProcessed() bool {
	return s.IsValid() && s != RequisitionStatusPending
}

func ParseRequisitionStatusFromString(s string) (RequisitionStatus, error) {
	st := RequisitionStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid requisition status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	// DuplicateExternalReferenceMessage is stored on requisitions rejected by the idempotency check.
	DuplicateExternalReferenceMessage = "Duplicate external reference"
	// SubmitFailedPrefix prefixes the error stored when the submit action fails.
	SubmitFailedPrefix = "Submit failed: "
)

// RequisitionLine is one item line of a purchase requisition.
type RequisitionLine struct {
	ItemNumber        string          `json:"itemNumber,omitempty"`
	Description       string          `json:"description,omitempty"`
	SupplierNumber    string          `json:"supplierNumber,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	CostCenter        string          `json:"costCenter,omitempty"`
	ProjectNumber     string          `json:"projectNumber,omitempty"`
	DeliverToLocation string          `json:"deliverToLocation,omitempty"`
}

// RequisitionRequest is a validated requisition as submitted by a client, before persistence.
type RequisitionRequest struct {
	BusinessUnit      string            `json:"businessUnit"`
	Requester         string            `json:"requesterUsernameOrEmail"`
	DeliverToLocation string            `json:"deliverToLocation,omitempty"`
	Description       string            `json:"description,omitempty"`
	ExternalReference string            `json:"externalReference,omitempty"`
	Submit            bool              `json:"submit,omitempty"`
	Lines             []RequisitionLine `json:"lines"`
}

// Normalize trims surrounding whitespace from every text field.
func (r *RequisitionRequest) Normalize() {
	r.BusinessUnit = strings.TrimSpace(r.BusinessUnit)
	r.Requester = strings.TrimSpace(r.Requester)
	r.DeliverToLocation = strings.TrimSpace(r.DeliverToLocation)
	r.Description = strings.TrimSpace(r.Description)
	r.ExternalReference = strings.TrimSpace(r.ExternalReference)
	for i := range r.Lines {
		l := &r.Lines[i]
		l.ItemNumber = strings.TrimSpace(l.ItemNumber)
		l.Description = strings.TrimSpace(l.Description)
		l.SupplierNumber = strings.TrimSpace(l.SupplierNumber)
		l.CostCenter = strings.TrimSpace(l.CostCenter)
		l.ProjectNumber = strings.TrimSpace(l.ProjectNumber)
		l.DeliverToLocation = strings.TrimSpace(l.DeliverToLocation)
	}
}

// Problems returns every validation failure of the request, in field order.
func (r RequisitionRequest) Problems() []string {
	var problems []string
	if r.BusinessUnit == "" {
		problems = append(problems, "businessUnit is required")
	}
	if r.Requester == "" {
		problems = append(problems, "requesterUsernameOrEmail is required")
	}
	if len(r.Lines) == 0 {
		problems = append(problems, "at least one line is required")
	}
	for i, l := range r.Lines {
		if l.ItemNumber == "" && l.Description == "" {
			problems = append(problems, fmt.Sprintf("line %d: itemNumber or description is required", i+1))
		}
		if !l.Quantity.IsPositive() {
			problems = append(problems, fmt.Sprintf("line %d: quantity must be greater than zero", i+1))
		}
		if l.UnitPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("line %d: unitPrice must not be negative", i+1))
		}
	}
	return problems
}

func (r RequisitionRequest) Validate() error {
	if problems := r.Problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Requisition is a single purchase requisition tracked through ERP creation and submission.
type Requisition struct {
	ID                  string
	BatchID             string
	BusinessUnit        string
	Requester           string
	DeliverToLocation   *string
	ExternalReference   *string
	RequestPayload      RequisitionRequest
	Lines               []RequisitionLine
	FusionRequisitionID *string
	RequisitionNumber   *string
	ResponsePayload     map[string]any
	Submitted           bool
	SubmittedAt         *time.Time
	ApprovedAt          *time.Time
	ErrorMessage        *string
	Status              RequisitionStatus
	AttemptCount        int
	Retryable           bool
	NextRetryAt         *time.Time
	ApprovalCheckedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewRequisition builds a PENDING requisition for batchID from a validated request.
func NewRequisition(batchID string, req RequisitionRequest) Requisition {
	return Requisition{
		BatchID:           batchID,
		BusinessUnit:      req.BusinessUnit,
		Requester:         req.Requester,
		DeliverToLocation: optionalString(req.DeliverToLocation),
		ExternalReference: optionalString(req.ExternalReference),
		RequestPayload:    req,
		Lines:             req.Lines,
		Status:            RequisitionStatusPending,
	}
}

// WantsSubmit reports whether the original request asked for submission after creation.
func (r Requisition) WantsSubmit() bool { return r.RequestPayload.Submit }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
