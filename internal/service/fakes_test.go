package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/kursadbilgin/requisition-engine/internal/fusion"
	"github.com/kursadbilgin/requisition-engine/internal/queue"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
)

type fakeBatchRepo struct {
	createWithRequisitionsFn func(ctx context.Context, b *domain.Batch, requisitions []*domain.Requisition) error
	getByIDFn                func(ctx context.Context, id string) (*domain.Batch, error)
	getWithRequisitionsFn    func(ctx context.Context, id string) (*domain.Batch, error)
	listFn                   func(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error)
	updateStatusFn           func(ctx context.Context, id string, status domain.BatchStatus) error
	markEnqueueFailedFn      func(ctx context.Context, id string, message string) error
	updateCountsFn           func(ctx context.Context, id string, counts domain.BatchCounts) error
	resetForRetryFn          func(ctx context.Context, id string) (int64, error)
}

func (f *fakeBatchRepo) CreateWithRequisitions(ctx context.Context, b *domain.Batch, requisitions []*domain.Requisition) error {
	if f.createWithRequisitionsFn != nil {
		return f.createWithRequisitionsFn(ctx, b, requisitions)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) GetWithRequisitions(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getWithRequisitionsFn != nil {
		return f.getWithRequisitionsFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) List(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeBatchRepo) MarkEnqueueFailed(ctx context.Context, id string, message string) error {
	if f.markEnqueueFailedFn != nil {
		return f.markEnqueueFailedFn(ctx, id, message)
	}
	return nil
}

func (f *fakeBatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.BatchCounts) error {
	if f.updateCountsFn != nil {
		return f.updateCountsFn(ctx, id, counts)
	}
	return nil
}

func (f *fakeBatchRepo) ResetForRetry(ctx context.Context, id string) (int64, error) {
	if f.resetForRetryFn != nil {
		return f.resetForRetryFn(ctx, id)
	}
	return 0, nil
}

type fakeRequisitionRepo struct {
	getByIDFn         func(ctx context.Context, id string) (*domain.Requisition, error)
	listByBatchFn     func(ctx context.Context, batchID string) ([]domain.Requisition, error)
	getBatchSummaryFn func(ctx context.Context, batchID string) ([]repository.StatusSummary, error)
	markCreatedFn     func(ctx context.Context, id string, result repository.CreatedResult) error
	markSubmittedFn   func(ctx context.Context, id string, response map[string]any, submittedAt time.Time) error
	markFailedFn      func(ctx context.Context, id string, update repository.FailureUpdate) error
	markDecisionFn    func(ctx context.Context, id string, status domain.RequisitionStatus, decidedAt time.Time, response map[string]any) error
	getDueForRetryFn  func(ctx context.Context, limit int) ([]domain.Requisition, error)
	claimForRetryFn   func(ctx context.Context, id string) (*domain.Requisition, error)
	releaseClaimFn    func(ctx context.Context, id string, nextRetryAt time.Time) error
	listSubmittedFn   func(ctx context.Context, limit int, checkedAt time.Time) ([]domain.Requisition, error)
}

func (f *fakeRequisitionRepo) GetByID(ctx context.Context, id string) (*domain.Requisition, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRequisitionRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Requisition, error) {
	if f.listByBatchFn != nil {
		return f.listByBatchFn(ctx, batchID)
	}
	return nil, nil
}

func (f *fakeRequisitionRepo) GetBatchSummary(ctx context.Context, batchID string) ([]repository.StatusSummary, error) {
	if f.getBatchSummaryFn != nil {
		return f.getBatchSummaryFn(ctx, batchID)
	}
	return nil, nil
}

func (f *fakeRequisitionRepo) MarkCreated(ctx context.Context, id string, result repository.CreatedResult) error {
	if f.markCreatedFn != nil {
		return f.markCreatedFn(ctx, id, result)
	}
	return nil
}

func (f *fakeRequisitionRepo) MarkSubmitted(ctx context.Context, id string, response map[string]any, submittedAt time.Time) error {
	if f.markSubmittedFn != nil {
		return f.markSubmittedFn(ctx, id, response, submittedAt)
	}
	return nil
}

func (f *fakeRequisitionRepo) MarkFailed(ctx context.Context, id string, update repository.FailureUpdate) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, update)
	}
	return nil
}

func (f *fakeRequisitionRepo) MarkDecision(ctx context.Context, id string, status domain.RequisitionStatus, decidedAt time.Time, response map[string]any) error {
	if f.markDecisionFn != nil {
		return f.markDecisionFn(ctx, id, status, decidedAt, response)
	}
	return nil
}

func (f *fakeRequisitionRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Requisition, error) {
	if f.getDueForRetryFn != nil {
		return f.getDueForRetryFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeRequisitionRepo) ClaimForRetry(ctx context.Context, id string) (*domain.Requisition, error) {
	if f.claimForRetryFn != nil {
		return f.claimForRetryFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeRequisitionRepo) ReleaseClaim(ctx context.Context, id string, nextRetryAt time.Time) error {
	if f.releaseClaimFn != nil {
		return f.releaseClaimFn(ctx, id, nextRetryAt)
	}
	return nil
}

func (f *fakeRequisitionRepo) ListSubmitted(ctx context.Context, limit int, checkedAt time.Time) ([]domain.Requisition, error) {
	if f.listSubmittedFn != nil {
		return f.listSubmittedFn(ctx, limit, checkedAt)
	}
	return nil, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.RequisitionAttempt
	createFn func(ctx context.Context, a *domain.RequisitionAttempt) error
	pruneFn  func(ctx context.Context, keepCompleted, keepFailed int) (int64, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.RequisitionAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByRequisitionID(ctx context.Context, requisitionID string) ([]domain.RequisitionAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RequisitionAttempt
	for _, a := range f.attempts {
		if a.RequisitionID == requisitionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	if f.pruneFn != nil {
		return f.pruneFn(ctx, keepCompleted, keepFailed)
	}
	return 0, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.RequisitionMessage
	publishFn func(ctx context.Context, queueName string, msg queue.RequisitionMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.RequisitionMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func (f *fakePublisher) messages() []queue.RequisitionMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.RequisitionMessage, len(f.published))
	copy(out, f.published)
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeFusionClient struct {
	createFn func(ctx context.Context, payload fusion.CreatePayload) (*fusion.Record, error)
	submitFn func(ctx context.Context, remoteID string) (*fusion.Record, error)
	findFn   func(ctx context.Context, ref string) (*fusion.RecordCollection, error)
	getFn    func(ctx context.Context, remoteID string) (*fusion.Record, error)
}

func (f *fakeFusionClient) CreateRequisition(ctx context.Context, payload fusion.CreatePayload) (*fusion.Record, error) {
	if f.createFn != nil {
		return f.createFn(ctx, payload)
	}
	return &fusion.Record{"RequisitionHeaderId": "300000001", "RequisitionNumber": "REQ-1"}, nil
}

func (f *fakeFusionClient) SubmitRequisition(ctx context.Context, remoteID string) (*fusion.Record, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, remoteID)
	}
	return &fusion.Record{"RequisitionHeaderId": remoteID, "DocumentStatusCode": "PENDING_APPROVAL"}, nil
}

func (f *fakeFusionClient) FindByExternalReference(ctx context.Context, ref string) (*fusion.RecordCollection, error) {
	if f.findFn != nil {
		return f.findFn(ctx, ref)
	}
	return &fusion.RecordCollection{}, nil
}

func (f *fakeFusionClient) GetRequisition(ctx context.Context, remoteID string) (*fusion.Record, error) {
	if f.getFn != nil {
		return f.getFn(ctx, remoteID)
	}
	return &fusion.Record{"RequisitionHeaderId": remoteID}, nil
}

type fakeCountUpdater struct {
	mu      sync.Mutex
	updated []string
	err     error
}

func (f *fakeCountUpdater) UpdateBatchCounts(ctx context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, batchID)
	return f.err
}

// memStore keeps batches and requisitions in memory so the batch service and the
// worker can be exercised together.
type memStore struct {
	mu           sync.Mutex
	batches      map[string]*domain.Batch
	requisitions map[string]*domain.Requisition
	order        []string
}

func newMemStore() *memStore {
	return &memStore{
		batches:      make(map[string]*domain.Batch),
		requisitions: make(map[string]*domain.Requisition),
	}
}

func (m *memStore) batchRepo() *memBatchRepo { return &memBatchRepo{store: m} }

func (m *memStore) requisitionRepo() *memRequisitionRepo { return &memRequisitionRepo{store: m} }

func (m *memStore) batch(id string) domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.batches[id]
}

func (m *memStore) requisition(id string) domain.Requisition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.requisitions[id]
}

func (m *memStore) putRequisition(req domain.Requisition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requisitions[req.ID] = &req
	m.order = append(m.order, req.ID)
}

func (m *memStore) setBatchStatus(id string, status domain.BatchStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[id].Status = status
}

type memBatchRepo struct {
	store *memStore
}

func (r *memBatchRepo) CreateWithRequisitions(ctx context.Context, b *domain.Batch, requisitions []*domain.Requisition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	copied := *b
	r.store.batches[b.ID] = &copied
	for _, req := range requisitions {
		req.CreatedAt, req.UpdatedAt = now, now
		c := *req
		r.store.requisitions[req.ID] = &c
		r.store.order = append(r.store.order, req.ID)
	}
	return nil
}

func (r *memBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *memBatchRepo) GetWithRequisitions(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Requisitions, _ = r.store.requisitionRepo().ListByBatch(ctx, id)
	return b, nil
}

func (r *memBatchRepo) List(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.store.batches {
		if params.Status == nil || b.Status == *params.Status {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *memBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	return nil
}

func (r *memBatchRepo) MarkEnqueueFailed(ctx context.Context, id string, message string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BatchStatusPending
	b.ErrorMessage = &message
	return nil
}

func (r *memBatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.BatchCounts) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.TotalItems = counts.Total
	b.ProcessedItems = counts.Processed
	b.SuccessfulItems = counts.Successful
	b.FailedItems = counts.Failed
	b.Status = counts.Status
	return nil
}

func (r *memBatchRepo) ResetForRetry(ctx context.Context, id string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return 0, domain.ErrNotFound
	}

	var reset int64
	for _, req := range r.store.requisitions {
		if req.BatchID != id || req.Status != domain.RequisitionStatusFailed {
			continue
		}
		req.Status = domain.RequisitionStatusPending
		req.ErrorMessage = nil
		req.AttemptCount = 0
		req.Retryable = false
		req.NextRetryAt = nil
		reset++
	}

	b.Status = domain.BatchStatusPending
	b.ProcessedItems, b.SuccessfulItems, b.FailedItems = 0, 0, 0
	b.ErrorMessage = nil
	return reset, nil
}

type memRequisitionRepo struct {
	store *memStore
}

func (r *memRequisitionRepo) GetByID(ctx context.Context, id string) (*domain.Requisition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requisitions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *memRequisitionRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Requisition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Requisition
	for _, id := range r.store.order {
		if req := r.store.requisitions[id]; req.BatchID == batchID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memRequisitionRepo) GetBatchSummary(ctx context.Context, batchID string) ([]repository.StatusSummary, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	counts := make(map[domain.RequisitionStatus]int)
	for _, req := range r.store.requisitions {
		if req.BatchID == batchID {
			counts[req.Status]++
		}
	}
	out := make([]repository.StatusSummary, 0, len(counts))
	for status, count := range counts {
		out = append(out, repository.StatusSummary{Status: status, Count: count})
	}
	return out, nil
}

func (r *memRequisitionRepo) mutate(id string, fn func(req *domain.Requisition)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requisitions[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(req)
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRequisitionRepo) MarkCreated(ctx context.Context, id string, result repository.CreatedResult) error {
	return r.mutate(id, func(req *domain.Requisition) {
		remoteID := result.FusionRequisitionID
		req.Status = domain.RequisitionStatusCreated
		req.FusionRequisitionID = &remoteID
		req.RequisitionNumber = result.RequisitionNumber
		req.ResponsePayload = result.Response
		req.ErrorMessage = nil
		req.Retryable = false
		req.NextRetryAt = nil
	})
}

func (r *memRequisitionRepo) MarkSubmitted(ctx context.Context, id string, response map[string]any, submittedAt time.Time) error {
	return r.mutate(id, func(req *domain.Requisition) {
		req.Status = domain.RequisitionStatusSubmitted
		req.Submitted = true
		req.SubmittedAt = &submittedAt
		req.ErrorMessage = nil
		if response != nil {
			req.ResponsePayload = response
		}
	})
}

func (r *memRequisitionRepo) MarkFailed(ctx context.Context, id string, update repository.FailureUpdate) error {
	return r.mutate(id, func(req *domain.Requisition) {
		message := update.Message
		req.Status = domain.RequisitionStatusFailed
		req.ErrorMessage = &message
		req.AttemptCount = update.AttemptCount
		req.Retryable = update.Retryable
		req.NextRetryAt = update.NextRetryAt
	})
}

func (r *memRequisitionRepo) MarkDecision(ctx context.Context, id string, status domain.RequisitionStatus, decidedAt time.Time, response map[string]any) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requisitions[id]
	if !ok || req.Status != domain.RequisitionStatusSubmitted {
		return domain.ErrConflict
	}
	req.Status = status
	if status == domain.RequisitionStatusApproved {
		req.ApprovedAt = &decidedAt
	}
	return nil
}

// GetDueForRetry treats every scheduled retry as due; the store has no clock.
func (r *memRequisitionRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Requisition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Requisition
	for _, id := range r.store.order {
		req := r.store.requisitions[id]
		if req.Status == domain.RequisitionStatusFailed && req.Retryable && req.NextRetryAt != nil {
			out = append(out, *req)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRequisitionRepo) ClaimForRetry(ctx context.Context, id string) (*domain.Requisition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requisitions[id]
	if !ok || req.Status != domain.RequisitionStatusFailed || !req.Retryable || req.NextRetryAt == nil {
		return nil, nil
	}
	req.Status = domain.RequisitionStatusPending
	req.Retryable = false
	req.NextRetryAt = nil
	copied := *req
	return &copied, nil
}

func (r *memRequisitionRepo) ReleaseClaim(ctx context.Context, id string, nextRetryAt time.Time) error {
	return r.mutate(id, func(req *domain.Requisition) {
		req.Status = domain.RequisitionStatusFailed
		req.Retryable = true
		req.NextRetryAt = &nextRetryAt
	})
}

func (r *memRequisitionRepo) ListSubmitted(ctx context.Context, limit int, checkedAt time.Time) ([]domain.Requisition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var submitted []*domain.Requisition
	for _, id := range r.store.order {
		req := r.store.requisitions[id]
		if req.Status == domain.RequisitionStatusSubmitted && req.FusionRequisitionID != nil {
			submitted = append(submitted, req)
		}
	}
	sort.SliceStable(submitted, func(i, j int) bool {
		a, b := submitted[i].ApprovalCheckedAt, submitted[j].ApprovalCheckedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if len(submitted) > limit {
		submitted = submitted[:limit]
	}

	out := make([]domain.Requisition, 0, len(submitted))
	for _, req := range submitted {
		stamped := checkedAt
		req.ApprovalCheckedAt = &stamped
		out = append(out, *req)
	}
	return out, nil
}
