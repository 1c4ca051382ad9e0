package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/iam-api/internal/models"
	"github.com/noah-isme/iam-api/pkg/jobs"
)

type auditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditService records authentication audit entries off the request path
// through a background queue. Audit failures never fail the triggering
// operation; they are retried by the queue and logged when exhausted.
type AuditService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs the audit pipeline on top of the given repo.
func NewAuditService(repo auditLogRepository, logger *zap.Logger, cfg jobs.QueueConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{logger: logger}

	handler := func(ctx context.Context, job jobs.Job) error {
		entry, ok := job.Payload.(models.AuditLog)
		if !ok {
			return fmt.Errorf("unexpected audit payload type %T", job.Payload)
		}
		return repo.Create(ctx, &entry)
	}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue("audit", handler, cfg)

	return svc
}

// Start launches the background workers.
func (s *AuditService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AuditService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Record enqueues an audit entry. Safe on a nil receiver so callers need no
// feature checks.
func (s *AuditService) Record(entry models.AuditLog) {
	if s == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: string(entry.Action), Payload: entry}); err != nil {
		s.logger.Warn("failed to enqueue audit entry", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}
