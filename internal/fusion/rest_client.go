package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultRESTVersion      = "11.13.18.05"
	defaultExternalRefField = "ExternalReference"

	actionContentType    = "application/vnd.oracle.adf.action+json"
	restFrameworkVersion = "2"

	requisitionsPath       = "/purchaseRequisitions"
	requisitionPath        = "/purchaseRequisitions/{id}"
	submitActionPath       = "/purchaseRequisitions/{id}/action/submitRequisition"
	deriveChargeActionPath = "/purchaseRequisitions/{id}/action/deriveChargeAccount"
)

// Config holds the connection settings for the Fusion REST API.
type Config struct {
	BaseURL          string
	Username         string
	Password         string
	RESTVersion      string
	ExternalRefField string
	Timeout          time.Duration
}

// RESTClient talks to Fusion over HTTPS with basic authentication.
type RESTClient struct {
	client           *resty.Client
	externalRefField string
	logger           *zap.Logger
}

func NewRESTClient(cfg Config, logger *zap.Logger) (*RESTClient, error) {
	client := resty.New()
	return NewRESTClientWithClient(cfg, client, logger)
}

func NewRESTClientWithClient(cfg Config, client *resty.Client, logger *zap.Logger) (*RESTClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("fusion base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid fusion base url: %w", err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("fusion credentials are required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	version := cfg.RESTVersion
	if version == "" {
		version = defaultRESTVersion
	}
	refField := cfg.ExternalRefField
	if refField == "" {
		refField = defaultExternalRefField
	}

	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(fmt.Sprintf("%s/fscmRestApi/resources/%s", baseURL, version))
	client.SetBasicAuth(cfg.Username, cfg.Password)
	client.SetHeader("Accept", "application/json")

	return &RESTClient{
		client:           client,
		externalRefField: refField,
		logger:           logger,
	}, nil
}

func (c *RESTClient) CreateRequisition(ctx context.Context, payload CreatePayload) (*Record, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload.body(c.externalRefField))

	var record Record
	if err := c.execute(req, http.MethodPost, requisitionsPath, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SubmitRequisition derives the charge account and then invokes the submit action.
// A failed derivation is logged and the submit is attempted anyway.
func (c *RESTClient) SubmitRequisition(ctx context.Context, remoteID string) (*Record, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, &Error{Message: "requisition id is required"}
	}

	if err := c.deriveChargeAccount(ctx, remoteID); err != nil {
		c.logger.Warn("charge account derivation failed, submitting anyway",
			zap.String("fusionRequisitionId", remoteID),
			zap.Error(err),
		)
	}

	var record Record
	if err := c.execute(c.action(ctx, remoteID), http.MethodPost, submitActionPath, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *RESTClient) FindByExternalReference(ctx context.Context, ref string) (*RecordCollection, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("q", fmt.Sprintf("%s='%s'", c.externalRefField, strings.ReplaceAll(ref, "'", "''")))

	var collection RecordCollection
	if err := c.execute(req, http.MethodGet, requisitionsPath, &collection); err != nil {
		return nil, err
	}
	return &collection, nil
}

func (c *RESTClient) GetRequisition(ctx context.Context, remoteID string) (*Record, error) {
	req := c.client.R().
		SetContext(ctx).
		SetPathParam("id", remoteID)

	var record Record
	if err := c.execute(req, http.MethodGet, requisitionPath, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *RESTClient) deriveChargeAccount(ctx context.Context, remoteID string) error {
	return c.execute(c.action(ctx, remoteID), http.MethodPost, deriveChargeActionPath, nil)
}

func (c *RESTClient) action(ctx context.Context, remoteID string) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetPathParam("id", remoteID).
		SetHeader("Content-Type", actionContentType).
		SetHeader("REST-Framework-Version", restFrameworkVersion).
		SetBody(map[string]any{})
}

func (c *RESTClient) execute(req *resty.Request, method, path string, out any) error {
	start := time.Now()
	response, err := req.Execute(method, path)
	if err != nil {
		return &Error{
			Message:   fmt.Sprintf("%s %s request failed", method, path),
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &Error{
			Message:   "fusion returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	c.logger.Debug("fusion api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", statusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return &Error{
			StatusCode: statusCode,
			Message:    errorDetail(statusCode, response.Body()),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	if out == nil || len(bytes.TrimSpace(response.Body())) == 0 {
		return nil
	}
	if err := decodeJSON(response.Body(), out); err != nil {
		return &Error{
			StatusCode: statusCode,
			Message:    "failed to decode fusion response",
			Cause:      err,
		}
	}
	return nil
}

// errorDetail extracts the human readable message from a Fusion error body,
// preferring detail over title.
func errorDetail(statusCode int, body []byte) string {
	var problem struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &problem); err == nil {
		if d := strings.TrimSpace(problem.Detail); d != "" {
			return d
		}
		if t := strings.TrimSpace(problem.Title); t != "" {
			return t
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("fusion returned status %d", statusCode)
}

func decodeJSON(data []byte, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(out)
}
