package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/config"
	"altan/workspace/internal/events"
	"altan/workspace/internal/formdata"
	"altan/workspace/internal/search"
	"altan/workspace/internal/snapshot"
	"altan/workspace/internal/tasks"
)

// Submitter sends a normalized payload upstream. restapi.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, method, path string, payload any) (json.RawMessage, error)
}

// RecordSearcher answers free-text queries over one table.
type RecordSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type SnapshotExporter interface {
	Export(ctx context.Context) (*snapshot.Result, error)
}

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Service. Tasks, Bases and Dispatcher are
// required; the rest are optional and their endpoints answer 503 when missing.
type Deps struct {
	Tasks      *tasks.Store
	Bases      *bases.Store
	Dispatcher *events.Dispatcher
	Upstream   Submitter
	Search     RecordSearcher
	Snapshots  SnapshotExporter
	Checks     map[string]Pinger
	Logger     *slog.Logger
}

type Service struct {
	cfg        config.Config
	tasks      *tasks.Store
	bases      *bases.Store
	dispatcher *events.Dispatcher
	upstream   Submitter
	search     RecordSearcher
	snapshots  SnapshotExporter
	checks     map[string]Pinger
	logger     *slog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checks := deps.Checks
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &Service{
		cfg:        cfg,
		tasks:      deps.Tasks,
		bases:      deps.Bases,
		dispatcher: deps.Dispatcher,
		upstream:   deps.Upstream,
		search:     deps.Search,
		snapshots:  deps.Snapshots,
		checks:     checks,
		logger:     logger,
	}
}

// Ready pings every configured dependency and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	failures := map[string]error{}
	for _, name := range s.CheckNames() {
		if err := s.checks[name].Ping(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (s *Service) CheckNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseFieldSchema accepts either an object schema ({"type":"object","properties":{...}})
// or a bare map of field descriptors.
func ParseFieldSchema(raw json.RawMessage) (*formdata.Fields, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return formdata.NewFields(), nil
	}
	var probe struct {
		Type       any             `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_SCHEMA", "schema must be a JSON object", nil)
	}
	var (
		fields *formdata.Fields
		err    error
	)
	if probe.Type == "object" && len(probe.Properties) > 0 {
		fields, err = formdata.ParseObjectSchema(trimmed)
	} else {
		fields, err = formdata.ParseFields(trimmed)
	}
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_SCHEMA", err.Error(), nil)
	}
	return fields, nil
}

func (s *Service) Normalize(data map[string]any, schema json.RawMessage) (map[string]any, error) {
	fields, err := ParseFieldSchema(schema)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return formdata.Normalize(data, fields), nil
}

// Validate reports whether data matches jsonSchema, with the validator's messages
// when it does not. A schema that is not JSON is a request error.
func (s *Service) Validate(data any, jsonSchema json.RawMessage) (bool, []string, error) {
	if !json.Valid(jsonSchema) {
		return false, nil, domainError(http.StatusBadRequest, "INVALID_SCHEMA", "json_schema must be valid JSON", nil)
	}
	if err := formdata.Validate(data, jsonSchema); err != nil {
		messages := formdata.ValidationMessages(err)
		s.logger.Warn("payload does not match schema", "errors", messages)
		return false, messages, nil
	}
	return true, nil, nil
}

type SubmitRequest struct {
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Data       map[string]any  `json:"data"`
	Schema     json.RawMessage `json:"schema"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

// Submit normalizes the payload, validates it when a JSON schema is given and
// sends it upstream.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
	}
	if s.upstream == nil {
		return nil, disabled("upstream API")
	}
	payload, err := s.Normalize(req.Data, req.Schema)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(req.JSONSchema)) > 0 {
		valid, messages, err := s.Validate(payload, req.JSONSchema)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "payload does not match schema", messages)
		}
	}
	body, err := s.upstream.Submit(ctx, req.Method, strings.TrimLeft(req.Path, "/"), payload)
	if err != nil {
		return nil, upstreamError(err, "Failed to submit")
	}
	return body, nil
}

type ThreadTasks struct {
	Tasks  []tasks.Task     `json:"tasks"`
	Status tasks.LoadStatus `json:"status"`
}

func (s *Service) ThreadTasks(ctx context.Context, threadID string, refresh bool) (ThreadTasks, error) {
	fetch := s.tasks.FetchTasks
	if refresh {
		fetch = s.tasks.RefreshTasks
	}
	items, err := fetch(ctx, threadID)
	if err != nil {
		return ThreadTasks{}, upstreamError(err, "Failed to fetch tasks")
	}
	if items == nil {
		items = []tasks.Task{}
	}
	return ThreadTasks{Tasks: items, Status: s.tasks.TasksStatus(threadID)}, nil
}

func (s *Service) ThreadPlan(threadID string) (tasks.Plan, error) {
	plan, ok := s.tasks.PlanForThread(threadID)
	if !ok {
		return tasks.Plan{}, notFound("No plan for thread")
	}
	return plan, nil
}

func (s *Service) Plan(ctx context.Context, planID string) (tasks.Plan, error) {
	plan, err := s.tasks.FetchPlan(ctx, planID)
	if err != nil {
		return tasks.Plan{}, upstreamError(err, "Failed to fetch plan")
	}
	return plan, nil
}

func (s *Service) RoomPlans(ctx context.Context, roomID string) ([]tasks.Plan, error) {
	plans, err := s.tasks.FetchPlansByRoomID(ctx, roomID)
	if err != nil {
		return nil, upstreamError(err, "Failed to fetch plans")
	}
	if plans == nil {
		plans = []tasks.Plan{}
	}
	return plans, nil
}

func (s *Service) CompletedPlan() (tasks.CompletedPlanEvent, bool) {
	return s.tasks.CompletedPlanEvent()
}

func (s *Service) ClearCompletedPlan() {
	s.tasks.ClearPlanCompleted()
}

func (s *Service) Base(ctx context.Context, baseID string) (bases.Base, error) {
	if base, ok := s.bases.Base(baseID); ok && len(base.Tables.Items) > 0 {
		return base, nil
	}
	base, err := s.bases.FetchTables(ctx, baseID)
	if err != nil {
		return bases.Base{}, upstreamError(err, "Failed to fetch tables")
	}
	return base, nil
}

type TableRecords struct {
	Records []bases.Record     `json:"records"`
	Total   int                `json:"total"`
	State   bases.RecordsState `json:"state"`
}

// TableRecords serves the first page from the cache once loaded. A page token
// always fetches and appends the next page.
func (s *Service) TableRecords(ctx context.Context, tableID, pageToken string) (TableRecords, error) {
	cache, cached := s.bases.Records(tableID)
	if pageToken != "" || !cached {
		fetched, err := s.bases.FetchTableRecords(ctx, tableID, pageToken)
		if err != nil {
			return TableRecords{}, upstreamError(err, "Failed to fetch records")
		}
		cache = fetched
	}
	state, _ := s.bases.RecordsState(tableID)
	items := cache.Items
	if items == nil {
		items = []bases.Record{}
	}
	return TableRecords{Records: items, Total: cache.Total, State: state}, nil
}

func (s *Service) SearchRecords(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, disabled("search")
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	return s.search.Search(ctx, q), nil
}

// ApplyEvent injects an envelope as if it had arrived on the stream.
func (s *Service) ApplyEvent(ctx context.Context, env events.Envelope) error {
	err := s.dispatcher.Dispatch(ctx, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, events.ErrUnknownType):
		return domainError(http.StatusBadRequest, "UNKNOWN_EVENT", err.Error(), nil)
	case errors.Is(err, events.ErrBadPayload):
		return domainError(http.StatusBadRequest, "INVALID_EVENT", err.Error(), nil)
	default:
		return err
	}
}

func (s *Service) Snapshot(ctx context.Context) (*snapshot.Result, error) {
	if s.snapshots == nil {
		return nil, disabled("snapshot storage")
	}
	return s.snapshots.Export(ctx)
}
