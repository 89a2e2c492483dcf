// Package jobs schedules and runs the background tasks of LEXIFY requests
// on asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexify/requestforms/internal/logger"
)

// Task types.
const (
	TypeExpireRequest = "request:expire"
	TypeSweepExpired  = "requests:sweep"
)

// RequestPayload identifies the request a task acts on.
type RequestPayload struct {
	RequestID string `json:"request_id"`
}

// NewExpireRequestTask creates the task that expires one request.
func NewExpireRequestTask(requestID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RequestPayload{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExpireRequest, payload), nil
}

// ExpireTaskID is the unique id of a request's expiry task, so that a
// request never has two of them queued.
func ExpireTaskID(requestID string) string {
	return "expire-request-" + requestID
}

// ExpiryTime is when a request with the given offers deadline expires: the
// start of the following day, UTC.
func ExpiryTime(deadline time.Time) time.Time {
	y, m, d := deadline.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// Enqueuer is the part of *asynq.Client used by Scheduler.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler queues expiry tasks. A nil Scheduler or one without a client
// does nothing, so the server runs without Redis.
type Scheduler struct {
	client Enqueuer
}

// NewScheduler creates a scheduler on client, which may be nil.
func NewScheduler(client Enqueuer) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleExpiry queues the expiry of a request at its deadline.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, requestID string, deadline time.Time) error {
	if s == nil || s.client == nil {
		logger.Debug("Task queue not configured, expiry left to the sweep", "requestId", requestID)
		return nil
	}

	task, err := NewExpireRequestTask(requestID)
	if err != nil {
		return fmt.Errorf("failed to create expiry task: %w", err)
	}

	runAt := ExpiryTime(deadline)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.TaskID(ExpireTaskID(requestID)),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue expiry task: %w", err)
	}

	logger.Info("Expiry scheduled", "requestId", requestID, "runAt", runAt.Format(time.RFC3339))
	return nil
}

// Expirer is the part of the request store the handlers need.
type Expirer interface {
	Expire(ctx context.Context, id string, asOf time.Time) (bool, error)
	ExpireDue(ctx context.Context, asOf time.Time) (int64, error)
}

// Handlers runs expiry tasks against a request store.
type Handlers struct {
	store Expirer
	now   func() time.Time
}

// NewHandlers creates the task handlers.
func NewHandlers(store Expirer, now func() time.Time) *Handlers {
	if now == nil {
		now = time.Now
	}
	return &Handlers{store: store, now: now}
}

// Register binds every task type to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeExpireRequest, h.HandleExpireRequest)
	mux.HandleFunc(TypeSweepExpired, h.HandleSweepExpired)
}

// HandleExpireRequest expires one request. A request that was already
// handled or removed is not an error.
func (h *Handlers) HandleExpireRequest(ctx context.Context, t *asynq.Task) error {
	var payload RequestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	changed, err := h.store.Expire(ctx, payload.RequestID, h.now().UTC())
	if err != nil {
		logger.Error("Failed to expire request", "requestId", payload.RequestID, "error", err)
		return err
	}
	if changed {
		logger.Info("Request expired", "requestId", payload.RequestID)
	} else {
		logger.Debug("Request not pending or deadline not passed, skipping", "requestId", payload.RequestID)
	}
	return nil
}

// HandleSweepExpired expires every overdue request, catching the ones whose
// task was never queued.
func (h *Handlers) HandleSweepExpired(ctx context.Context, _ *asynq.Task) error {
	n, err := h.store.ExpireDue(ctx, h.now().UTC())
	if err != nil {
		logger.Error("Expiry sweep failed", "error", err)
		return err
	}
	if n > 0 {
		logger.Info("Expiry sweep done", "expired", n)
	}
	return nil
}
