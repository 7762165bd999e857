package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// RequisitionMessage is the broker payload for requisition processing. All durable
// state lives in the requisition row.
type RequisitionMessage struct {
	BatchID       string `json:"batchId"`
	RequisitionID string `json:"requisitionId"`
}

func (m RequisitionMessage) Validate() error {
	if _, err := uuid.Parse(m.BatchID); err != nil {
		return fmt.Errorf("invalid batchId %q: %w", m.BatchID, err)
	}
	if _, err := uuid.Parse(m.RequisitionID); err != nil {
		return fmt.Errorf("invalid requisitionId %q: %w", m.RequisitionID, err)
	}
	return nil
}
