package tasks

// Snapshot is a detached copy of the whole task/plan state.
type Snapshot struct {
	TasksByThread      map[string][]Task   `json:"tasksByThread"`
	PlansByID          map[string]Plan     `json:"plansById"`
	PlanIDByThread     map[string]string   `json:"planIdByThread"`
	PlansByRoom        map[string][]string `json:"plansByRoom"`
	CompletedPlanEvent *CompletedPlanEvent `json:"completedPlanEvent,omitempty"`
}

func (s *Store) Tasks(threadID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasksByThread[threadID])
}

func (s *Store) Task(threadID, taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasksByThread[threadID] {
		if task.ID == taskID {
			return task.clone(), true
		}
	}
	return Task{}, false
}

func (s *Store) Plan(planID string) (Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan := s.plansByID[planID]
	if plan == nil {
		return Plan{}, false
	}
	return plan.clone(), true
}

func (s *Store) PlanForThread(threadID string) (Plan, bool) {
	s.mu.RLock()
	planID := s.planIDByThread[threadID]
	s.mu.RUnlock()
	if planID == "" {
		return Plan{}, false
	}
	return s.Plan(planID)
}

func (s *Store) PlansForRoom(roomID string) []Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.plansByRoom[roomID]
	plans := make([]Plan, 0, len(ids))
	for _, id := range ids {
		if plan := s.plansByID[id]; plan != nil {
			plans = append(plans, plan.clone())
		}
	}
	return plans
}

func (s *Store) CompletedPlanEvent() (CompletedPlanEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.completedPlanEvent == nil {
		return CompletedPlanEvent{}, false
	}
	return *s.completedPlanEvent, true
}

func (s *Store) TasksStatus(threadID string) LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LoadStatus{
		Loading:     s.tasksLoading[threadID],
		Initialized: s.tasksInitialized[threadID],
		Error:       s.tasksErrors[threadID],
	}
}

func (s *Store) PlanStatus(planID string) LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LoadStatus{
		Loading:     s.planLoading[planID],
		Initialized: s.plansByID[planID] != nil,
		Error:       s.planErrors[planID],
	}
}

func (s *Store) RoomPlansStatus(roomID string) LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LoadStatus{
		Loading:     s.roomPlansLoading[roomID],
		Initialized: s.roomPlansInitialized[roomID],
		Error:       s.roomPlansErrors[roomID],
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		TasksByThread:  make(map[string][]Task, len(s.tasksByThread)),
		PlansByID:      make(map[string]Plan, len(s.plansByID)),
		PlanIDByThread: make(map[string]string, len(s.planIDByThread)),
		PlansByRoom:    make(map[string][]string, len(s.plansByRoom)),
	}
	for threadID, items := range s.tasksByThread {
		snap.TasksByThread[threadID] = cloneTasks(items)
	}
	for planID, plan := range s.plansByID {
		snap.PlansByID[planID] = plan.clone()
	}
	for threadID, planID := range s.planIDByThread {
		snap.PlanIDByThread[threadID] = planID
	}
	for roomID, ids := range s.plansByRoom {
		snap.PlansByRoom[roomID] = append([]string(nil), ids...)
	}
	if s.completedPlanEvent != nil {
		event := *s.completedPlanEvent
		snap.CompletedPlanEvent = &event
	}
	return snap
}
