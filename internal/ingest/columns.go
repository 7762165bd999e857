package ingest

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/shopspring/decimal"
)

type field int

const (
	fieldBusinessUnit field = iota
	fieldRequester
	fieldDeliverTo
	fieldExternalRef
	fieldItemNumber
	fieldDescription
	fieldSupplier
	fieldQuantity
	fieldUnitPrice
	fieldCostCenter
	fieldProject
	fieldSubmit
)

// columnAliases lists the accepted header names per field, in priority order.
var columnAliases = map[field][]string{
	fieldBusinessUnit: {"business_unit", "businessunit", "bu", "empresa", "unidade"},
	fieldRequester:    {"requester", "solicitante", "user", "username", "email", "requester_username_or_email"},
	fieldDeliverTo:    {"deliver_to_location", "deliver_to", "deliverto", "local_entrega", "location"},
	fieldExternalRef:  {"external_reference", "external_ref", "externalreference", "referencia", "id_externo"},
	fieldItemNumber:   {"item_number", "itemnumber", "item", "codigo_item"},
	fieldDescription:  {"description", "desc", "descricao", "item_description"},
	fieldSupplier:     {"supplier_number", "suppliernumber", "fornecedor", "supplier"},
	fieldQuantity:     {"quantity", "qty", "quantidade"},
	fieldUnitPrice:    {"unit_price", "unitprice", "preco", "price", "valor"},
	fieldCostCenter:   {"cost_center", "costcenter", "centro_custo", "cc"},
	fieldProject:      {"project_number", "projectnumber", "projeto", "project"},
	fieldSubmit:       {"submit", "submeter"},
}

type row map[string]string

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		out[i] = strings.Join(strings.Fields(h), "_")
	}
	return out
}

func rowFromRecord(header, record []string) row {
	r := make(row, len(header))
	for i, name := range header {
		if name == "" || i >= len(record) {
			continue
		}
		r[name] = strings.TrimSpace(record[i])
	}
	return r
}

func (r row) get(f field) string {
	for _, alias := range columnAliases[f] {
		if v := r[alias]; v != "" {
			return v
		}
	}
	return ""
}

// mapRow converts a raw row into a requisition request with a single line.
func mapRow(r row) (domain.RequisitionRequest, []string) {
	var problems []string

	quantity, err := parseAmount(r.get(fieldQuantity), decimal.NewFromInt(1))
	if err != nil {
		problems = append(problems, fmt.Sprintf("invalid quantity: %v", err))
	}
	unitPrice, err := parseAmount(r.get(fieldUnitPrice), decimal.Zero)
	if err != nil {
		problems = append(problems, fmt.Sprintf("invalid unit price: %v", err))
	}

	deliverTo := r.get(fieldDeliverTo)
	req := domain.RequisitionRequest{
		BusinessUnit:      r.get(fieldBusinessUnit),
		Requester:         r.get(fieldRequester),
		DeliverToLocation: deliverTo,
		ExternalReference: r.get(fieldExternalRef),
		Submit:            parseBool(r.get(fieldSubmit)),
		Lines: []domain.RequisitionLine{{
			ItemNumber:        r.get(fieldItemNumber),
			Description:       r.get(fieldDescription),
			SupplierNumber:    r.get(fieldSupplier),
			Quantity:          quantity,
			UnitPrice:         unitPrice,
			CostCenter:        r.get(fieldCostCenter),
			ProjectNumber:     r.get(fieldProject),
			DeliverToLocation: deliverTo,
		}},
	}

	if len(problems) > 0 {
		return req, problems
	}
	return req, req.Problems()
}

// parseAmount accepts "1234.5" and the comma decimal form "1234,5". Empty yields def.
func parseAmount(s string, def decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true
	}
	return false
}
