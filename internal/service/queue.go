package service

import (
	"context"

	"tillsync/internal/metrics"
	"tillsync/internal/model"
	"tillsync/internal/repository"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"

	"go.uber.org/zap"
)

// QueueService is the write side of the local queue used by the facade and
// the interceptor, plus the operator actions on it.
type QueueService struct {
	repo     repository.QueueInterface
	observer metrics.SyncObserver
}

func NewQueueService(repo repository.QueueInterface, observer metrics.SyncObserver) *QueueService {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &QueueService{repo: repo, observer: observer}
}

func (s *QueueService) EnqueueSale(ctx context.Context, sale v1.SalePayload) (string, error) {
	draft, err := model.NewSaleDraft(sale)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, draft)
}

func (s *QueueService) EnqueueRequest(ctx context.Context, req v1.RequestPayload) (string, error) {
	draft, err := model.NewRequestDraft(req)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, draft)
}

func (s *QueueService) enqueue(ctx context.Context, draft model.Draft) (string, error) {
	id, err := s.repo.Enqueue(ctx, draft)
	if err != nil {
		return "", err
	}
	s.observer.RecordEnqueue(draft.Kind)
	logger.Info("operation queued", zap.String("id", id), zap.String("kind", draft.Kind))
	return id, nil
}

func (s *QueueService) List(ctx context.Context) ([]model.QueuedOperation, error) {
	return s.repo.List(ctx)
}

func (s *QueueService) Stats(ctx context.Context) (v1.QueueStats, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return v1.QueueStats{}, err
	}
	failed, err := s.repo.CountByStatus(ctx, constraints.StatusFailed)
	if err != nil {
		return v1.QueueStats{}, err
	}
	s.observer.SetQueueDepth(total-failed, failed)
	return v1.QueueStats{Total: total, Pending: total - failed, Failed: failed}, nil
}

// Clear empties the queue, dead-lettered entries included.
func (s *QueueService) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	logger.Warn("queue cleared", zap.String("operator", OperatorName(ctx)))
	return nil
}

// Requeue returns a dead-lettered operation to automatic retry.
func (s *QueueService) Requeue(ctx context.Context, id string) error {
	if err := s.repo.Requeue(ctx, id); err != nil {
		return err
	}
	logger.Info("operation requeued", zap.String("id", id), zap.String("operator", OperatorName(ctx)))
	return nil
}
