package events

import (
	"context"
	"encoding/json"
	"fmt"

	"altan/workspace/internal/tasks"
)

type taskPayload struct {
	tasks.Task
	AllTasksCompleted bool `json:"all_tasks_completed"`
}

// threadOf returns the thread that owns the task: the main thread when known.
func threadOf(mainthreadID, threadID string) string {
	if mainthreadID != "" {
		return mainthreadID
	}
	return threadID
}

func decodeTask(data json.RawMessage) (taskPayload, map[string]any, error) {
	var p taskPayload
	if err := decode(data, &p); err != nil {
		return p, nil, err
	}
	if p.ID == "" {
		return p, nil, fmt.Errorf("%w: task id missing", ErrBadPayload)
	}
	var updates map[string]any
	if err := decode(data, &updates); err != nil {
		return p, nil, err
	}
	delete(updates, "all_tasks_completed")
	return p, updates, nil
}

func (d *Dispatcher) taskCreated(_ context.Context, data json.RawMessage) error {
	p, _, err := decodeTask(data)
	if err != nil {
		return err
	}
	d.tasks.AddTask(threadOf(p.MainthreadID, p.ThreadID), p.Task)
	return nil
}

func (d *Dispatcher) taskUpdated(_ context.Context, data json.RawMessage) error {
	p, updates, err := decodeTask(data)
	if err != nil {
		return err
	}
	d.tasks.UpdateTask(threadOf(p.MainthreadID, p.ThreadID), p.ID, updates)
	return nil
}

// taskCompleted raises the plan completion notice only when the server says every
// task of the plan is done.
func (d *Dispatcher) taskCompleted(_ context.Context, data json.RawMessage) error {
	p, updates, err := decodeTask(data)
	if err != nil {
		return err
	}
	thread := threadOf(p.MainthreadID, p.ThreadID)
	d.tasks.UpdateTask(thread, p.ID, updates)
	if !p.AllTasksCompleted {
		return nil
	}
	planID := p.PlanID
	if planID == "" {
		if plan, ok := d.tasks.PlanForThread(thread); ok {
			planID = plan.ID
		}
	}
	d.tasks.SetPlanCompleted(planID, thread)
	d.logger.Info("plan completed", "plan_id", planID, "thread_id", thread)
	return nil
}

func (d *Dispatcher) taskDeleted(_ context.Context, data json.RawMessage) error {
	p, _, err := decodeTask(data)
	if err != nil {
		return err
	}
	d.tasks.RemoveTask(threadOf(p.MainthreadID, p.ThreadID), p.ID)
	return nil
}

// planChanged overlays the keys the event carries onto the cached plan, so a
// partial plan.updated keeps the title and tasks it does not mention.
func (d *Dispatcher) planChanged(_ context.Context, data json.RawMessage) error {
	var p struct {
		ID           string `json:"id"`
		MainthreadID string `json:"mainthread_id"`
		ThreadID     string `json:"thread_id"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: plan id missing", ErrBadPayload)
	}
	var updates map[string]any
	if err := decode(data, &updates); err != nil {
		return err
	}
	delete(updates, "mainthread_id")
	delete(updates, "thread_id")
	d.tasks.MergePlan(p.ID, threadOf(p.MainthreadID, p.ThreadID), updates)
	return nil
}
