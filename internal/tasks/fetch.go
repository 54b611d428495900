package tasks

import (
	"context"
	"errors"
	"fmt"
)

// responseMessager is implemented by API errors that carry a server message.
type responseMessager interface {
	ResponseMessage() string
}

// ErrorMessage prefers the server's response message, then the error text, then fallback.
func ErrorMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var rm responseMessager
	if errors.As(err, &rm) {
		if msg := rm.ResponseMessage(); msg != "" {
			return msg
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

// FetchPlan returns the cached plan, joins an in-flight fetch for the same id, or
// fetches and stores it.
func (s *Store) FetchPlan(ctx context.Context, planID string) (Plan, error) {
	if plan, ok := s.Plan(planID); ok {
		return plan, nil
	}

	result, err, _ := s.flight.Do("plan:"+planID, func() (any, error) {
		s.mu.Lock()
		if cached := s.plansByID[planID]; cached != nil {
			plan := cached.clone()
			s.mu.Unlock()
			return plan, nil
		}
		s.planLoading[planID] = true
		delete(s.planErrors, planID)
		s.mu.Unlock()

		plan, err := s.fetcher.GetPlan(ctx, planID)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.planLoading[planID] = false
		if err != nil {
			s.planErrors[planID] = ErrorMessage(err, "Failed to fetch plan")
			return nil, fmt.Errorf("fetch plan %s: %w", planID, err)
		}
		if plan.ID == "" {
			plan.ID = planID
		}
		s.setPlanLocked(plan, "")
		return s.plansByID[plan.ID].clone(), nil
	})
	if err != nil {
		return Plan{}, err
	}
	return result.(Plan), nil
}

// FetchTasks loads a thread's tasks once. An empty list is a valid initialized state.
// Tasks already cached with a newer updated_at survive the fetch.
func (s *Store) FetchTasks(ctx context.Context, threadID string) ([]Task, error) {
	s.mu.RLock()
	if s.tasksInitialized[threadID] {
		items := cloneTasks(s.tasksByThread[threadID])
		s.mu.RUnlock()
		return items, nil
	}
	s.mu.RUnlock()

	result, err, _ := s.flight.Do("tasks:"+threadID, func() (any, error) {
		s.mu.Lock()
		s.tasksLoading[threadID] = true
		delete(s.tasksErrors, threadID)
		s.mu.Unlock()

		fetched, err := s.fetcher.ListTasks(ctx, threadID)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.tasksLoading[threadID] = false
		if err != nil {
			s.tasksErrors[threadID] = ErrorMessage(err, "Failed to fetch tasks")
			return nil, fmt.Errorf("fetch tasks for thread %s: %w", threadID, err)
		}
		merged := mergeByUpdatedAt(s.tasksByThread[threadID], cloneTasks(fetched))
		s.tasksByThread[threadID] = merged
		s.tasksInitialized[threadID] = true
		return cloneTasks(merged), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Task), nil
}

// RefreshTasks forces the next FetchTasks for the thread to hit the API.
func (s *Store) RefreshTasks(ctx context.Context, threadID string) ([]Task, error) {
	s.mu.Lock()
	s.tasksInitialized[threadID] = false
	s.mu.Unlock()
	return s.FetchTasks(ctx, threadID)
}

// FetchPlansByRoomID loads a room's plans once; concurrent callers share one request.
func (s *Store) FetchPlansByRoomID(ctx context.Context, roomID string) ([]Plan, error) {
	s.mu.RLock()
	initialized := s.roomPlansInitialized[roomID]
	s.mu.RUnlock()
	if initialized {
		return s.PlansForRoom(roomID), nil
	}

	_, err, _ := s.flight.Do("room:"+roomID, func() (any, error) {
		s.mu.Lock()
		s.roomPlansLoading[roomID] = true
		delete(s.roomPlansErrors, roomID)
		s.mu.Unlock()

		plans, err := s.fetcher.ListPlansByRoom(ctx, roomID)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.roomPlansLoading[roomID] = false
		if err != nil {
			s.roomPlansErrors[roomID] = ErrorMessage(err, "Failed to fetch plans")
			return nil, fmt.Errorf("fetch plans for room %s: %w", roomID, err)
		}
		ids := make([]string, 0, len(plans))
		for _, plan := range plans {
			if plan.ID == "" {
				continue
			}
			if plan.RoomID == "" {
				plan.RoomID = roomID
			}
			s.setPlanLocked(plan, "")
			ids = append(ids, plan.ID)
		}
		s.plansByRoom[roomID] = ids
		s.roomPlansInitialized[roomID] = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return s.PlansForRoom(roomID), nil
}
