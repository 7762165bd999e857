package handler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/kursadbilgin/requisition-engine/internal/ingest"
	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/service"
)

const (
	maxMetadataRowErrors = 50
	maxMessageRowErrors  = 5
	xlsxContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type BatchService interface {
	CreateBatch(ctx context.Context, input service.CreateBatchInput) (*domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, params service.ListBatchesParams) ([]domain.Batch, int64, error)
	GetBatchMetrics(ctx context.Context, id string) (*service.BatchMetrics, error)
	RetryBatch(ctx context.Context, id string) error
}

type BatchHandler struct {
	service     BatchService
	maxFileSize int64
}

func NewBatchHandler(service BatchService, maxFileSize int64) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("max file size must be positive")
	}
	return &BatchHandler{service: service, maxFileSize: maxFileSize}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService, maxFileSize int64) error {
	h, err := NewBatchHandler(service, maxFileSize)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.UploadBatch)
	v1.Post("/batches/json", h.CreateBatchJSON)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Get("/batches/:id/metrics", h.GetBatchMetrics)
	v1.Post("/batches/:id/retry", h.RetryBatch)
	v1.Get("/batches/:id/export", h.ExportBatch)
	v1.Post("/ingestion/validate", h.ValidateFile)
	v1.Get("/ingestion/template", h.DownloadTemplate)

	return nil
}

type requisitionResponse struct {
	ID                  string                   `json:"id"`
	BatchID             string                   `json:"batchId"`
	BusinessUnit        string                   `json:"businessUnit"`
	Requester           string                   `json:"requesterUsernameOrEmail"`
	DeliverToLocation   *string                  `json:"deliverToLocation,omitempty"`
	ExternalReference   *string                  `json:"externalReference,omitempty"`
	Lines               []domain.RequisitionLine `json:"lines"`
	FusionRequisitionID *string                  `json:"fusionRequisitionId,omitempty"`
	RequisitionNumber   *string                  `json:"requisitionNumber,omitempty"`
	Submitted           bool                     `json:"submitted"`
	SubmittedAt         *time.Time               `json:"submittedAt,omitempty"`
	ApprovedAt          *time.Time               `json:"approvedAt,omitempty"`
	ErrorMessage        *string                  `json:"errorMessage,omitempty"`
	Status              string                   `json:"status"`
	AttemptCount        int                      `json:"attemptCount"`
	NextRetryAt         *time.Time               `json:"nextRetryAt,omitempty"`
	CreatedAt           time.Time                `json:"createdAt"`
	UpdatedAt           time.Time                `json:"updatedAt"`
}

type batchResponse struct {
	ID               string                `json:"id"`
	FileName         string                `json:"fileName"`
	OriginalFileName *string               `json:"originalFileName,omitempty"`
	Status           string                `json:"status"`
	TotalItems       int                   `json:"totalItems"`
	ProcessedItems   int                   `json:"processedItems"`
	SuccessfulItems  int                   `json:"successfulItems"`
	FailedItems      int                   `json:"failedItems"`
	ErrorMessage     *string               `json:"errorMessage,omitempty"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
	UploadedBy       *string               `json:"uploadedBy,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	Requisitions     []requisitionResponse `json:"requisitions,omitempty"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

type listMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type batchMetricsResponse struct {
	TotalItems              int   `json:"totalItems"`
	ProcessedItems          int   `json:"processedItems"`
	SuccessfulItems         int   `json:"successfulItems"`
	FailedItems             int   `json:"failedItems"`
	ProcessingTimeMs        int64 `json:"processingTime"`
	AverageProcessingTimeMs int64 `json:"averageProcessingTime"`
}

// UploadBatch creates a batch from the valid rows of a CSV or XLSX upload.
func (h *BatchHandler) UploadBatch(c *fiber.Ctx) error {
	fileName, result, err := h.parseUpload(c)
	if err != nil {
		return toHTTPError(err)
	}
	if len(result.Requisitions) == 0 {
		return toHTTPError(fmt.Errorf("%w: file contains no valid requisitions%s",
			domain.ErrValidation, rowErrorSuffix(result.Errors)))
	}

	var uploadedBy *string
	if value := strings.TrimSpace(c.FormValue("uploadedBy")); value != "" {
		uploadedBy = &value
	}

	batch, err := h.service.CreateBatch(requestContext(c), service.CreateBatchInput{
		FileName:         fileName,
		OriginalFileName: &fileName,
		UploadedBy:       uploadedBy,
		Metadata:         uploadMetadata(result),
		Source:           sourceFromFileName(fileName),
		Requisitions:     result.Requisitions,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) CreateBatchJSON(c *fiber.Ctx) error {
	payload, err := ingest.DecodeBatchJSON(c.Body())
	if err != nil {
		return toHTTPError(err)
	}

	batch, err := h.service.CreateBatch(requestContext(c), service.CreateBatchInput{
		FileName:         payload.FileName,
		OriginalFileName: payload.OriginalFileName,
		UploadedBy:       payload.UploadedBy,
		Metadata:         payload.Metadata,
		Source:           "json",
		Requisitions:     payload.Requisitions,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	params := service.ListBatchesParams{
		Page:  c.QueryInt("page", 0),
		Limit: c.QueryInt("limit", 0),
	}
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseBatchStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	batches, total, err := h.service.ListBatches(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	page, limit := service.NormalizePage(params.Page, params.Limit)
	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Data: data,
		Meta: listMeta{Page: page, Limit: limit, Total: total},
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.service.GetBatch(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatchMetrics(c *fiber.Ctx) error {
	metrics, err := h.service.GetBatchMetrics(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchMetricsResponse{
		TotalItems:              metrics.TotalItems,
		ProcessedItems:          metrics.ProcessedItems,
		SuccessfulItems:         metrics.SuccessfulItems,
		FailedItems:             metrics.FailedItems,
		ProcessingTimeMs:        metrics.ProcessingTime.Milliseconds(),
		AverageProcessingTimeMs: metrics.AverageProcessingTime.Milliseconds(),
	})
}

func (h *BatchHandler) RetryBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.RetryBatch(requestContext(c), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Batch retry initiated",
	})
}

func (h *BatchHandler) ExportBatch(c *fiber.Ctx) error {
	batch, err := h.service.GetBatch(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data, err := ingest.ExportBatchXLSX(batch)
	if err != nil {
		return err
	}

	c.Attachment(ingest.ExportFileName(batch.ID))
	c.Set(fiber.HeaderContentType, xlsxContentType)
	return c.Status(fiber.StatusOK).Send(data)
}

// ValidateFile parses an upload without creating a batch.
func (h *BatchHandler) ValidateFile(c *fiber.Ctx) error {
	_, result, err := h.parseUpload(c)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *BatchHandler) DownloadTemplate(c *fiber.Ctx) error {
	c.Attachment(ingest.TemplateFileName)
	c.Set(fiber.HeaderContentType, "text/csv")
	return c.Status(fiber.StatusOK).Send(ingest.Template())
}

func (h *BatchHandler) parseUpload(c *fiber.Ctx) (string, *ingest.Result, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}
	if fh.Size > h.maxFileSize {
		return "", nil, fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", h.maxFileSize))
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(fh.Filename)
	result, err := ingest.Parse(fileName, f)
	if err != nil {
		return "", nil, err
	}
	return fileName, result, nil
}

func uploadMetadata(result *ingest.Result) map[string]any {
	metadata := map[string]any{
		"totalRows":   result.Metadata.TotalRows,
		"validRows":   result.Metadata.ValidRows,
		"invalidRows": result.Metadata.InvalidRows,
	}
	if len(result.Errors) > 0 {
		rowErrors := result.Errors
		if len(rowErrors) > maxMetadataRowErrors {
			rowErrors = rowErrors[:maxMetadataRowErrors]
		}
		metadata["rowErrors"] = rowErrors
	}
	return metadata
}

func rowErrorSuffix(rowErrors []string) string {
	if len(rowErrors) == 0 {
		return ""
	}
	if len(rowErrors) > maxMessageRowErrors {
		rowErrors = rowErrors[:maxMessageRowErrors]
	}
	return ": " + strings.Join(rowErrors, "; ")
}

func sourceFromFileName(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}

func requestContext(c *fiber.Ctx) context.Context {
	return observability.WithCorrelationID(c.Context(), requestCorrelationID(c))
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	resp := batchResponse{
		ID:               b.ID,
		FileName:         b.FileName,
		OriginalFileName: b.OriginalFileName,
		Status:           b.Status.String(),
		TotalItems:       b.TotalItems,
		ProcessedItems:   b.ProcessedItems,
		SuccessfulItems:  b.SuccessfulItems,
		FailedItems:      b.FailedItems,
		ErrorMessage:     b.ErrorMessage,
		Metadata:         b.Metadata,
		UploadedBy:       b.UploadedBy,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	if len(b.Requisitions) > 0 {
		resp.Requisitions = make([]requisitionResponse, 0, len(b.Requisitions))
		for i := range b.Requisitions {
			resp.Requisitions = append(resp.Requisitions, toRequisitionResponse(&b.Requisitions[i]))
		}
	}
	return resp
}

func toRequisitionResponse(r *domain.Requisition) requisitionResponse {
	return requisitionResponse{
		ID:                  r.ID,
		BatchID:             r.BatchID,
		BusinessUnit:        r.BusinessUnit,
		Requester:           r.Requester,
		DeliverToLocation:   r.DeliverToLocation,
		ExternalReference:   r.ExternalReference,
		Lines:               r.Lines,
		FusionRequisitionID: r.FusionRequisitionID,
		RequisitionNumber:   r.RequisitionNumber,
		Submitted:           r.Submitted,
		SubmittedAt:         r.SubmittedAt,
		ApprovedAt:          r.ApprovedAt,
		ErrorMessage:        r.ErrorMessage,
		Status:              r.Status.String(),
		AttemptCount:        r.AttemptCount,
		NextRetryAt:         r.NextRetryAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrDuplicate):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
