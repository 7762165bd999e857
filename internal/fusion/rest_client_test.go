package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/shopspring/decimal"
)

const testBasePath = "/fscmRestApi/resources/11.13.18.05"

func newTestClient(t *testing.T, serverURL string) *RESTClient {
	t.Helper()

	c, err := NewRESTClient(Config{
		BaseURL:          serverURL,
		Username:         "svc",
		Password:         "secret",
		ExternalRefField: "ExtRef_c",
	}, nil)
	if err != nil {
		t.Fatalf("NewRESTClient() error = %v", err)
	}
	return c
}

func TestNewRESTClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRESTClient(Config{Username: "u", Password: "p"}, nil); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := NewRESTClient(Config{BaseURL: "https://erp.example.com"}, nil); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestRESTClientCreateRequisition(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != testBasePath+"/purchaseRequisitions" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"RequisitionHeaderId":300000012345678,"RequisitionNumber":"REQ-1001"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	ref := "EXT-1"
	payload := BuildCreatePayload(domain.Requisition{
		BusinessUnit:      "US1 Business Unit",
		Requester:         "jane.doe@example.com",
		ExternalReference: &ref,
		Lines: []domain.RequisitionLine{{
			ItemNumber: "AS54888",
			Quantity:   decimal.NewFromInt(2),
			UnitPrice:  decimal.RequireFromString("10.5"),
			CostCenter: "100",
		}},
	})

	record, err := c.CreateRequisition(context.Background(), payload)
	if err != nil {
		t.Fatalf("CreateRequisition() unexpected error: %v", err)
	}
	if record.ID() != "300000012345678" {
		t.Fatalf("ID() = %q, want 300000012345678", record.ID())
	}
	if record.RequisitionNumber() != "REQ-1001" {
		t.Fatalf("RequisitionNumber() = %q, want REQ-1001", record.RequisitionNumber())
	}

	if gotBody["ExtRef_c"] != "EXT-1" {
		t.Fatalf("external reference field = %v, want EXT-1", gotBody["ExtRef_c"])
	}
	lines, ok := gotBody["RequisitionLines"].([]any)
	if !ok || len(lines) != 1 {
		t.Fatalf("RequisitionLines = %v", gotBody["RequisitionLines"])
	}
	line := lines[0].(map[string]any)
	if line["Quantity"] != float64(2) || line["UnitPrice"] != 10.5 {
		t.Fatalf("line amounts = %v/%v", line["Quantity"], line["UnitPrice"])
	}
	dists := line["Distributions"].([]any)
	if dists[0].(map[string]any)["CostCenter"] != "100" {
		t.Fatalf("distribution = %v", dists[0])
	}
}

func TestRESTClientSubmitRequisition_DerivesChargeAccountFirst(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()

		if got := r.Header.Get("Content-Type"); got != actionContentType {
			t.Errorf("Content-Type = %q, want %q", got, actionContentType)
		}
		if got := r.Header.Get("REST-Framework-Version"); got != "2" {
			t.Errorf("REST-Framework-Version = %q, want 2", got)
		}

		if r.URL.Path == testBasePath+"/purchaseRequisitions/42/action/deriveChargeAccount" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"no derivation rule"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"SUCCESS"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	record, err := c.SubmitRequisition(context.Background(), "42")
	if err != nil {
		t.Fatalf("SubmitRequisition() unexpected error: %v", err)
	}
	if (*record)["result"] != "SUCCESS" {
		t.Fatalf("record = %v", *record)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want derive then submit", calls)
	}
	if calls[1] != testBasePath+"/purchaseRequisitions/42/action/submitRequisition" {
		t.Fatalf("second call = %s", calls[1])
	}
}

func TestRESTClientFindByExternalReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ref   string
		wantQ string
	}{
		{name: "plain reference", ref: "EXT-9", wantQ: "ExtRef_c='EXT-9'"},
		{name: "quote is doubled", ref: "O'Brien-7", wantQ: "ExtRef_c='O''Brien-7'"},
		{name: "closing quote cannot end the literal", ref: "x' OR '1'='1", wantQ: "ExtRef_c='x'' OR ''1''=''1'"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("q"); got != tt.wantQ {
					t.Errorf("q = %q, want %q", got, tt.wantQ)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"items":[{"RequisitionHeaderId":1}],"count":1,"hasMore":false}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)

			collection, err := c.FindByExternalReference(context.Background(), tt.ref)
			if err != nil {
				t.Fatalf("FindByExternalReference() unexpected error: %v", err)
			}
			if len(collection.Items) != 1 || collection.Items[0].ID() != "1" {
				t.Fatalf("collection = %+v", collection)
			}
		})
	}
}

func TestRESTClientGetRequisition(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != testBasePath+"/purchaseRequisitions/77" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"RequisitionHeaderId":"77","DocumentStatusCode":"approved"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	record, err := c.GetRequisition(context.Background(), "77")
	if err != nil {
		t.Fatalf("GetRequisition() unexpected error: %v", err)
	}
	if record.DocumentStatus() != "APPROVED" {
		t.Fatalf("DocumentStatus() = %q, want APPROVED", record.DocumentStatus())
	}
}

func TestRESTClientStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
		wantMessage   string
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true, wantMessage: "slow down"},
		{name: "request timeout is transient", statusCode: http.StatusRequestTimeout, wantTransient: true, wantMessage: "slow down"},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, body: `{"title":"Bad Request","detail":"Invalid business unit"}`, wantMessage: "Invalid business unit"},
		{name: "title used without detail", statusCode: http.StatusNotFound, body: `{"title":"Not Found"}`, wantMessage: "Not Found"},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true, wantMessage: "slow down"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			body := tc.body
			if body == "" {
				body = "slow down"
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)

			_, err := c.CreateRequisition(context.Background(), CreatePayload{BusinessUnit: "BU", Requester: "r"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var fusionErr *Error
			if !errors.As(err, &fusionErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if fusionErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", fusionErr.StatusCode, tc.statusCode)
			}
			if fusionErr.Message != tc.wantMessage {
				t.Fatalf("Message = %q, want %q", fusionErr.Message, tc.wantMessage)
			}
			if StatusCode(err) != tc.statusCode {
				t.Fatalf("StatusCode(err) = %d", StatusCode(err))
			}
		})
	}
}

func TestRESTClientTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	c, err := NewRESTClientWithClient(Config{
		BaseURL:  server.URL,
		Username: "svc",
		Password: "secret",
		Timeout:  30 * time.Millisecond,
	}, client, nil)
	if err != nil {
		t.Fatalf("NewRESTClientWithClient() error = %v", err)
	}

	_, err = c.GetRequisition(context.Background(), "1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil error is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("canceled should not be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatal("plain errors are not transient")
	}
}

func TestRecordID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record Record
		want   string
	}{
		{name: "header id wins", record: Record{"RequisitionHeaderId": json.Number("5"), "Id": "6"}, want: "5"},
		{name: "falls back to Id", record: Record{"Id": "6"}, want: "6"},
		{name: "falls back to id", record: Record{"id": float64(7)}, want: "7"},
		{name: "missing", record: Record{}, want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.record.ID(); got != tt.want {
				t.Fatalf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}
