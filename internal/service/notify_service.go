package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/iam-api/pkg/jobs"
	"github.com/noah-isme/iam-api/pkg/mailer"
)

// Notification is a queued outbound message.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// NotifyService delivers account notifications asynchronously so mail relay
// latency never sits on the request path.
type NotifyService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotifyService constructs the notification pipeline.
func NewNotifyService(m mailer.Mailer, logger *zap.Logger, cfg jobs.QueueConfig) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotifyService{logger: logger}

	handler := func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(Notification)
		if !ok {
			return fmt.Errorf("unexpected notification payload type %T", job.Payload)
		}
		return m.Send(msg.To, msg.Subject, msg.Body)
	}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue("notify", handler, cfg)

	return svc
}

// Start launches the background workers.
func (s *NotifyService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifyService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Notify enqueues a message. Safe on a nil receiver.
func (s *NotifyService) Notify(msg Notification) {
	if s == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "mail", Payload: msg}); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("to", msg.To), zap.Error(err))
	}
}
