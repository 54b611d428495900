package tasks

import (
	"encoding/json"
	"sort"
	"time"
)

type Task struct {
	ID                string `json:"id"`
	Title             string `json:"title,omitempty"`
	Description       string `json:"description,omitempty"`
	Status            string `json:"status,omitempty"`
	Order             *int   `json:"order,omitempty"`
	ThreadID          string `json:"thread_id,omitempty"`
	MainthreadID      string `json:"mainthread_id,omitempty"`
	PlanID            string `json:"plan_id,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
	FinishedAt        string `json:"finished_at,omitempty"`
	AssignedAgent     string `json:"assigned_agent,omitempty"`
	AssignedAgentName string `json:"assigned_agent_name,omitempty"`
	Dependencies      []any  `json:"dependencies,omitempty"`
	Summary           string `json:"summary,omitempty"`
}

type Plan struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	IsApproved  bool   `json:"is_approved"`
	Status      string `json:"status,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Tasks       []Task `json:"tasks"`
}

// CompletedPlanEvent is the one-shot notification raised when every task of a
// plan has completed.
type CompletedPlanEvent struct {
	PlanID    string    `json:"planId"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

// LoadStatus mirrors the per-key loading, error and initialized flags.
type LoadStatus struct {
	Loading     bool   `json:"loading"`
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
}

// Apply merges updates into a copy of t. Keys whose value cannot be decoded into
// the task field are skipped.
func (t Task) Apply(updates map[string]any) Task {
	if len(updates) == 0 {
		return t.clone()
	}
	return overlay(t.clone(), updates)
}

// Apply merges the plan-level keys of updates into a copy of p. The tasks key is
// left to the store, which merges task lists by updated_at.
func (p Plan) Apply(updates map[string]any) Plan {
	fields := make(map[string]any, len(updates))
	for key, value := range updates {
		if key != "tasks" {
			fields[key] = value
		}
	}
	out := p.clone()
	if len(fields) == 0 {
		return out
	}
	merged := overlay(out, fields)
	merged.Tasks = out.Tasks
	return merged
}

// overlay writes updates over the JSON form of v, falling back to one key at a
// time so a single undecodable value does not discard the rest.
func overlay[T any](v T, updates map[string]any) T {
	if merged, err := applyAll(v, updates); err == nil {
		return merged
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	current := v
	for _, key := range keys {
		if merged, err := applyAll(current, map[string]any{key: updates[key]}); err == nil {
			current = merged
		}
	}
	return current
}

func applyAll[T any](v T, updates map[string]any) (T, error) {
	var merged T
	encoded, err := json.Marshal(v)
	if err != nil {
		return merged, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return merged, err
	}
	for key, value := range updates {
		fields[key] = value
	}
	encoded, err = json.Marshal(fields)
	if err != nil {
		return merged, err
	}
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return merged, err
	}
	return merged, nil
}

func (t Task) clone() Task {
	out := t
	if t.Order != nil {
		order := *t.Order
		out.Order = &order
	}
	if t.Dependencies != nil {
		out.Dependencies = append([]any(nil), t.Dependencies...)
	}
	return out
}

func (p *Plan) clone() Plan {
	out := *p
	out.Tasks = cloneTasks(p.Tasks)
	return out
}

func cloneTasks(items []Task) []Task {
	if items == nil {
		return nil
	}
	out := make([]Task, len(items))
	for i, item := range items {
		out[i] = item.clone()
	}
	return out
}

// updatedAt parses a task timestamp; missing or malformed values sort as the zero time.
func updatedAt(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
