package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/tasks"
)

func (c *Client) GetPlan(ctx context.Context, planID string) (tasks.Plan, error) {
	body, err := c.get(ctx, "plans/"+url.PathEscape(planID))
	if err != nil {
		return tasks.Plan{}, err
	}
	var plan tasks.Plan
	if err := decodeEnvelope(body, "plan", &plan); err != nil {
		return tasks.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// ListTasks bypasses the response cache so that refreshes see the server state.
func (c *Client) ListTasks(ctx context.Context, threadID string) ([]tasks.Task, error) {
	body, err := c.do(ctx, http.MethodGet, "threads/"+url.PathEscape(threadID)+"/tasks", nil)
	if err != nil {
		return nil, err
	}
	items := []tasks.Task{}
	if err := decodeEnvelope(body, "tasks", &items); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return items, nil
}

func (c *Client) ListPlansByRoom(ctx context.Context, roomID string) ([]tasks.Plan, error) {
	body, err := c.get(ctx, "rooms/"+url.PathEscape(roomID)+"/plans")
	if err != nil {
		return nil, err
	}
	plans := []tasks.Plan{}
	if err := decodeEnvelope(body, "plans", &plans); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	return plans, nil
}

// pgColumn and pgTable follow the pg-meta listing shape.
type pgColumn struct {
	ID           bases.ID `json:"id"`
	TableID      bases.ID `json:"table_id"`
	Name         string   `json:"name"`
	DataType     string   `json:"data_type"`
	Format       string   `json:"format"`
	IsNullable   bool     `json:"is_nullable"`
	IsUnique     bool     `json:"is_unique"`
	IsIdentity   bool     `json:"is_identity"`
	IsGenerated  bool     `json:"is_generated"`
	DefaultValue any      `json:"default_value"`
	Comment      string   `json:"comment"`
}

type pgTable struct {
	ID         bases.ID   `json:"id"`
	Name       string     `json:"name"`
	Schema     string     `json:"schema"`
	RLSEnabled bool       `json:"rls_enabled"`
	Comment    string     `json:"comment"`
	Columns    []pgColumn `json:"columns"`
}

func (t pgTable) toTable() bases.Table {
	table := bases.Table{
		ID:         t.ID,
		Name:       t.Name,
		Schema:     t.Schema,
		RLSEnabled: t.RLSEnabled,
		Comment:    t.Comment,
	}
	table.Fields.Items = make([]bases.Field, 0, len(t.Columns))
	for _, col := range t.Columns {
		tableID := col.TableID
		if tableID == "" {
			tableID = t.ID
		}
		table.Fields.Items = append(table.Fields.Items, bases.Field{
			ID:           col.ID,
			Name:         col.Name,
			TableID:      tableID,
			DataType:     col.DataType,
			Format:       col.Format,
			IsNullable:   col.IsNullable,
			IsUnique:     col.IsUnique,
			IsIdentity:   col.IsIdentity,
			IsGenerated:  col.IsGenerated,
			DefaultValue: col.DefaultValue,
			Comment:      col.Comment,
		})
	}
	return table
}

func (c *Client) ListTables(ctx context.Context, baseID string) ([]bases.Table, error) {
	body, err := c.get(ctx, "bases/"+url.PathEscape(baseID)+"/tables")
	if err != nil {
		return nil, err
	}
	var listed []pgTable
	if err := decodeEnvelope(body, "tables", &listed); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	tables := make([]bases.Table, 0, len(listed))
	for _, t := range listed {
		tables = append(tables, t.toTable())
	}
	return tables, nil
}

func (c *Client) ListRecords(ctx context.Context, tableID, pageToken string, limit int) (bases.RecordPage, error) {
	path := "tables/" + url.PathEscape(tableID) + "/records" + query(map[string]string{
		"limit":      itoa(limit),
		"page_token": pageToken,
	})
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return bases.RecordPage{}, err
	}
	var page bases.RecordPage
	if err := decodeEnvelope(body, "data", &page); err != nil {
		return bases.RecordPage{}, fmt.Errorf("decode records: %w", err)
	}
	return page, nil
}
