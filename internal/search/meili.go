package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"altan/workspace/internal/bases"
)

const idxRecords = "workspace_records"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewMeili creates a Meilisearch client and configures the record index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxRecords,
		PrimaryKey: "uid",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxRecords, "error", err)
	}

	filterable := []interface{}{"table_id"}
	if _, err := m.client.Index(idxRecords).UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxRecords, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxRecords,
			Query:    q.Text,
			Limit:    limit,
			Offset:   int64(q.Offset),
			Filter:   fmt.Sprintf("table_id = %q", q.TableID),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		TableID:  decodeString(hit, "table_id"),
		RecordID: decodeString(hit, "record_id"),
	}
	if raw, ok := hit["record"]; ok {
		var record bases.Record
		if err := json.Unmarshal(raw, &record); err == nil {
			r.Record = record
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexRecords adds or replaces records of one table.
func (m *Meili) IndexRecords(tableID string, records []bases.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]RecordDocument, 0, len(records))
	for _, record := range records {
		if record.ID() == "" {
			continue
		}
		docs = append(docs, newDocument(tableID, record))
	}
	_, err := m.client.Index(idxRecords).AddDocuments(docs, nil)
	return err
}

func (m *Meili) DeleteRecords(tableID string, ids []string) error {
	index := m.client.Index(idxRecords)
	for _, id := range ids {
		if _, err := index.DeleteDocument(documentUID(tableID, id), nil); err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}
	return nil
}
