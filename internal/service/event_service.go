package service

import (
	"context"
	"sync"
	"time"

	"bothost/pkg/logger"
	"bothost/pkg/metrics"
	"bothost/pkg/store/sqlstore/model"
)

// EventWriter persists audit records
type EventWriter interface {
	InsertServerLog(ctx context.Context, e *model.ServerLog) error
	InsertDeploymentLog(ctx context.Context, e *model.DeploymentLog) error
}

type eventRecord struct {
	server     *model.ServerLog
	deployment *model.DeploymentLog
}

// EventService records audit and deployment lifecycle events off the caller's path.
// Events are queued on a bounded channel drained by one writer; when the
// queue is full the event is dropped.
type EventService struct {
	writer EventWriter
	queue  chan eventRecord

	closeOnce sync.Once
	done      chan struct{}
}

// NewEventService creates an event service with the given queue size
func NewEventService(writer EventWriter, queueSize int) *EventService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &EventService{
		writer: writer,
		queue:  make(chan eventRecord, queueSize),
		done:   make(chan struct{}),
	}
}

// Start runs the writer until Close
func (s *EventService) Start() {
	go s.run()
}

func (s *EventService) run() {
	defer close(s.done)
	for rec := range s.queue {
		s.write(rec)
	}
}

func (s *EventService) write(rec eventRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(context.Background(), "event writer panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if rec.server != nil {
		err = s.writer.InsertServerLog(ctx, rec.server)
	} else if rec.deployment != nil {
		err = s.writer.InsertDeploymentLog(ctx, rec.deployment)
	}
	if err != nil {
		logger.WarnCtx(ctx, "failed to record event: %v", err)
	}
}

// Emit queues a server event. It never blocks.
func (s *EventService) Emit(kind, details string, userID *int64) {
	s.enqueue(eventRecord{server: &model.ServerLog{
		Timestamp: time.Now(),
		Event:     kind,
		Details:   details,
		UserID:    userID,
	}})
}

// EmitDeployment queues a deployment lifecycle event. It never blocks.
func (s *EventService) EmitDeployment(deploymentID int64, logType, message string) {
	s.enqueue(eventRecord{deployment: &model.DeploymentLog{
		DeploymentID: deploymentID,
		Timestamp:    time.Now(),
		LogType:      logType,
		Message:      message,
	}})
}

func (s *EventService) enqueue(rec eventRecord) {
	defer func() {
		// send on a closed queue after shutdown
		if r := recover(); r != nil {
			metrics.EventsDroppedTotal.Inc()
		}
	}()
	select {
	case s.queue <- rec:
	default:
		metrics.EventsDroppedTotal.Inc()
		logger.WarnCtx(context.Background(), "event queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be written
func (s *EventService) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.queue) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
