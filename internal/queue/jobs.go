// Package queue defines the asynq tasks shared by the API and the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessRequestTask is enqueued once per submitted bulk request.
	ProcessRequestTask = "bulk:process"
	// PurgeArtifactsTask is scheduled periodically to delete expired archives.
	PurgeArtifactsTask = "artifact:purge"
)

// ProcessPayload is serialized into the task payload so the worker knows
// which request to run.
type ProcessPayload struct {
	RequestID string `json:"request_id"`
}

// NewProcessTask builds the task for one request. The request id doubles as
// the asynq task id, so dispatching the same request twice while the first
// task is still queued is a no-op.
func NewProcessTask(requestID string) (*asynq.Task, []asynq.Option, error) {
	if requestID == "" {
		return nil, nil, errors.New("process task: empty request id")
	}
	data, err := json.Marshal(ProcessPayload{RequestID: requestID})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(5), asynq.TaskID(requestID)}
	return asynq.NewTask(ProcessRequestTask, data), opts, nil
}

// DecodeProcess reads a ProcessPayload back out of a task.
func DecodeProcess(task *asynq.Task) (ProcessPayload, error) {
	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.RequestID == "" {
		return payload, errors.New("decode payload: missing request_id")
	}
	return payload, nil
}

// NewPurgeTask builds the periodic purge task. It carries no payload.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(PurgeArtifactsTask, nil)
}

// Enqueuer is the subset of *asynq.Client used by Dispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher hands requests to the asynq worker fleet.
type Dispatcher struct {
	client Enqueuer
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues a bulk:process task for requestID.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) error {
	task, opts, err := NewProcessTask(requestID)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
