package fusion

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Client is the outbound port to the Oracle Fusion procurement REST API.
type Client interface {
	CreateRequisition(ctx context.Context, payload CreatePayload) (*Record, error)
	SubmitRequisition(ctx context.Context, remoteID string) (*Record, error)
	FindByExternalReference(ctx context.Context, ref string) (*RecordCollection, error)
	GetRequisition(ctx context.Context, remoteID string) (*Record, error)
}

// Record is a raw purchase requisition resource as returned by Fusion.
type Record map[string]any

// ID returns the requisition header identifier, trying RequisitionHeaderId, Id and id in order.
func (r Record) ID() string {
	for _, key := range []string{"RequisitionHeaderId", "Id", "id"} {
		if v := stringValue(r[key]); v != "" {
			return v
		}
	}
	return ""
}

func (r Record) RequisitionNumber() string {
	return stringValue(r["RequisitionNumber"])
}

// DocumentStatus returns the approval status reported by Fusion, upper-cased.
func (r Record) DocumentStatus() string {
	for _, key := range []string{"DocumentStatusCode", "DocumentStatus"} {
		if v := stringValue(r[key]); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}

// RecordCollection is a Fusion collection response.
type RecordCollection struct {
	Items   []Record `json:"items"`
	Count   int      `json:"count"`
	HasMore bool     `json:"hasMore"`
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
