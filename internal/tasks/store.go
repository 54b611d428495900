// Package tasks keeps per-thread task lists and plans consistent across REST
// fetches, local edits and pushed events.
package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads authoritative task and plan state from the platform API.
type Fetcher interface {
	GetPlan(ctx context.Context, planID string) (Plan, error)
	ListTasks(ctx context.Context, threadID string) ([]Task, error)
	ListPlansByRoom(ctx context.Context, roomID string) ([]Plan, error)
}

type Store struct {
	mu      sync.RWMutex
	fetcher Fetcher
	flight  singleflight.Group
	now     func() time.Time

	tasksByThread    map[string][]Task
	tasksLoading     map[string]bool
	tasksErrors      map[string]string
	tasksInitialized map[string]bool

	plansByID      map[string]*Plan
	planLoading    map[string]bool
	planErrors     map[string]string
	planIDByThread map[string]string

	plansByRoom          map[string][]string
	roomPlansLoading     map[string]bool
	roomPlansErrors      map[string]string
	roomPlansInitialized map[string]bool

	completedPlanEvent *CompletedPlanEvent
}

func NewStore(fetcher Fetcher) *Store {
	return &Store{
		fetcher:              fetcher,
		now:                  time.Now,
		tasksByThread:        make(map[string][]Task),
		tasksLoading:         make(map[string]bool),
		tasksErrors:          make(map[string]string),
		tasksInitialized:     make(map[string]bool),
		plansByID:            make(map[string]*Plan),
		planLoading:          make(map[string]bool),
		planErrors:           make(map[string]string),
		planIDByThread:       make(map[string]string),
		plansByRoom:          make(map[string][]string),
		roomPlansLoading:     make(map[string]bool),
		roomPlansErrors:      make(map[string]string),
		roomPlansInitialized: make(map[string]bool),
	}
}

// AddTask appends task to the thread and, when the thread (or the task itself)
// points at a cached plan, to that plan as well. A task id already present is
// replaced in place.
func (s *Store) AddTask(threadID string, task Task) {
	if threadID == "" || task.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasksByThread[threadID] = upsertTask(s.tasksByThread[threadID], task.clone())
	s.tasksInitialized[threadID] = true

	planID := s.planIDByThread[threadID]
	if planID == "" || s.plansByID[planID] == nil {
		planID = task.PlanID
	}
	if plan := s.plansByID[planID]; plan != nil {
		plan.Tasks = upsertTask(plan.Tasks, task.clone())
	}
}

// UpdateTask merges the non-nil entries of updates into the task. When the thread
// does not know the task yet, a task is synthesized from the update alone. The
// same update is applied to every cached plan holding the task.
func (s *Store) UpdateTask(threadID, taskID string, updates map[string]any) {
	if taskID == "" {
		return
	}
	filtered := make(map[string]any, len(updates))
	for key, value := range updates {
		if value != nil {
			filtered[key] = value
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if threadID != "" {
		list := s.tasksByThread[threadID]
		found := false
		for i := range list {
			if list[i].ID == taskID {
				list[i] = list[i].Apply(filtered)
				found = true
				break
			}
		}
		if !found {
			created := Task{ID: taskID}.Apply(filtered)
			created.ID = taskID
			list = append(list, created)
		}
		s.tasksByThread[threadID] = list
		s.tasksInitialized[threadID] = true
	}

	for _, plan := range s.plansByID {
		for i := range plan.Tasks {
			if plan.Tasks[i].ID == taskID {
				plan.Tasks[i] = plan.Tasks[i].Apply(filtered)
			}
		}
	}
}

// RemoveTask deletes the task from the thread and from every cached plan.
func (s *Store) RemoveTask(threadID, taskID string) {
	if taskID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if list, ok := s.tasksByThread[threadID]; ok {
		s.tasksByThread[threadID] = removeTask(list, taskID)
	}
	for _, plan := range s.plansByID {
		plan.Tasks = removeTask(plan.Tasks, taskID)
	}
}

// SetPlan stores plan, keeping any cached task whose updated_at is strictly newer
// than the incoming copy. A non-empty threadID associates the plan with the thread.
func (s *Store) SetPlan(plan Plan, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPlanLocked(plan, threadID)
}

func (s *Store) setPlanLocked(plan Plan, threadID string) {
	if plan.ID == "" {
		return
	}
	incoming := plan.clone()
	if existing := s.plansByID[plan.ID]; existing != nil && len(existing.Tasks) > 0 {
		incoming.Tasks = mergeByUpdatedAt(existing.Tasks, incoming.Tasks)
	}
	s.plansByID[plan.ID] = &incoming
	if threadID != "" {
		s.planIDByThread[threadID] = plan.ID
	}
}

// MergePlan applies a possibly partial plan payload to the cached plan. Only the
// keys present in updates change; a tasks key is merged by updated_at as in SetPlan.
func (s *Store) MergePlan(planID, threadID string, updates map[string]any) {
	if planID == "" {
		return
	}
	filtered := make(map[string]any, len(updates))
	for key, value := range updates {
		if value != nil {
			filtered[key] = value
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := Plan{ID: planID}
	if existing := s.plansByID[planID]; existing != nil {
		current = *existing
	}
	merged := current.Apply(filtered)
	merged.ID = planID

	if raw, ok := filtered["tasks"]; ok {
		if incoming, err := decodeTasks(raw); err == nil {
			merged.Tasks = incoming
			s.setPlanLocked(merged, threadID)
			return
		}
	}
	s.plansByID[planID] = &merged
	if threadID != "" {
		s.planIDByThread[threadID] = planID
	}
}

func decodeTasks(raw any) ([]Task, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var items []Task
	if err := json.Unmarshal(encoded, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetPlanCompleted(planID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedPlanEvent = &CompletedPlanEvent{
		PlanID:    planID,
		ThreadID:  threadID,
		Timestamp: s.now(),
	}
}

func (s *Store) ClearPlanCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedPlanEvent = nil
}

// mergeByUpdatedAt keeps the incoming order and membership, swapping in the cached
// copy of a task when it is strictly newer.
func mergeByUpdatedAt(existing, incoming []Task) []Task {
	byID := make(map[string]Task, len(existing))
	for _, task := range existing {
		byID[task.ID] = task
	}
	merged := make([]Task, 0, len(incoming))
	for _, task := range incoming {
		if current, ok := byID[task.ID]; ok && updatedAt(current.UpdatedAt).After(updatedAt(task.UpdatedAt)) {
			merged = append(merged, current.clone())
			continue
		}
		merged = append(merged, task)
	}
	return merged
}

func upsertTask(list []Task, task Task) []Task {
	for i := range list {
		if list[i].ID == task.ID {
			list[i] = task
			return list
		}
	}
	return append(list, task)
}

func removeTask(list []Task, taskID string) []Task {
	out := list[:0]
	for _, task := range list {
		if task.ID != taskID {
			out = append(out, task)
		}
	}
	return out
}
