package fusion

import (
	"encoding/json"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
)

// CreatePayload is the wire body of POST /purchaseRequisitions.
type CreatePayload struct {
	BusinessUnit      string
	Requester         string
	DeliverToLocation string
	Description       string
	ExternalReference string
	Lines             []LinePayload
}

type LinePayload struct {
	ItemNumber        string                `json:"ItemNumber,omitempty"`
	ItemDescription   string                `json:"ItemDescription,omitempty"`
	SupplierNumber    string                `json:"SupplierNumber,omitempty"`
	Quantity          json.Number           `json:"Quantity"`
	UnitPrice         json.Number           `json:"UnitPrice"`
	DeliverToLocation string                `json:"DeliverToLocation,omitempty"`
	Distributions     []DistributionPayload `json:"Distributions"`
}

type DistributionPayload struct {
	CostCenter    string `json:"CostCenter,omitempty"`
	ProjectNumber string `json:"ProjectNumber,omitempty"`
}

// BuildCreatePayload maps a stored requisition onto the Fusion create body.
func BuildCreatePayload(r domain.Requisition) CreatePayload {
	req := r.RequestPayload
	lines := r.Lines
	if len(lines) == 0 {
		lines = req.Lines
	}

	payload := CreatePayload{
		BusinessUnit:      r.BusinessUnit,
		Requester:         r.Requester,
		DeliverToLocation: req.DeliverToLocation,
		Description:       req.Description,
		Lines:             make([]LinePayload, 0, len(lines)),
	}
	if r.ExternalReference != nil {
		payload.ExternalReference = *r.ExternalReference
	}

	for _, l := range lines {
		deliverTo := l.DeliverToLocation
		if deliverTo == "" {
			deliverTo = req.DeliverToLocation
		}
		payload.Lines = append(payload.Lines, LinePayload{
			ItemNumber:        l.ItemNumber,
			ItemDescription:   l.Description,
			SupplierNumber:    l.SupplierNumber,
			Quantity:          json.Number(l.Quantity.String()),
			UnitPrice:         json.Number(l.UnitPrice.String()),
			DeliverToLocation: deliverTo,
			Distributions: []DistributionPayload{{
				CostCenter:    l.CostCenter,
				ProjectNumber: l.ProjectNumber,
			}},
		})
	}

	return payload
}

// body renders the payload, placing the external reference under the configured
// descriptive flexfield name.
func (p CreatePayload) body(externalRefField string) map[string]any {
	body := map[string]any{
		"BusinessUnit":     p.BusinessUnit,
		"Requester":        p.Requester,
		"RequisitionLines": p.Lines,
	}
	if p.DeliverToLocation != "" {
		body["DeliverToLocation"] = p.DeliverToLocation
	}
	if p.Description != "" {
		body["Description"] = p.Description
	}
	if p.ExternalReference != "" && externalRefField != "" {
		body[externalRefField] = p.ExternalReference
	}
	return body
}
