// Package bases caches the relational schema catalog (bases, tables, fields) and
// paginated record sets per table, reconciling REST pages with pushed deltas.
package bases

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source loads catalog and record pages from the platform API or Postgres directly.
type Source interface {
	ListTables(ctx context.Context, baseID string) ([]Table, error)
	ListRecords(ctx context.Context, tableID, pageToken string, limit int) (RecordPage, error)
}

type Store struct {
	mu       sync.RWMutex
	source   Source
	flight   singleflight.Group
	now      func() time.Time
	pageSize int

	bases        map[string]*Base
	basesLoading map[string]bool
	basesErrors  map[string]string

	records       map[string]*RecordCache
	recordsState  map[string]*RecordsState
	recordsErrors map[string]string
}

// NewStore returns an empty cache. pageSize is used for tables whose page size
// has not been set explicitly.
func NewStore(source Source, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		source:        source,
		now:           time.Now,
		pageSize:      pageSize,
		bases:         make(map[string]*Base),
		basesLoading:  make(map[string]bool),
		basesErrors:   make(map[string]string),
		records:       make(map[string]*RecordCache),
		recordsState:  make(map[string]*RecordsState),
		recordsErrors: make(map[string]string),
	}
}

func (s *Store) SetBase(base Base) {
	if base.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := base.clone()
	for i := range copied.Tables.Items {
		copied.Tables.Items[i].BaseID = base.ID
	}
	s.bases[base.ID] = &copied
}

// SetTables replaces the table list of a base, creating the base when unknown.
func (s *Store) SetTables(baseID string, tables []Table) {
	if baseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTablesLocked(baseID, tables)
}

func (s *Store) setTablesLocked(baseID string, tables []Table) {
	base := s.bases[baseID]
	if base == nil {
		base = &Base{ID: baseID}
		s.bases[baseID] = base
	}
	items := make([]Table, 0, len(tables))
	for _, table := range tables {
		copied := table.clone()
		copied.BaseID = baseID
		items = append(items, copied)
	}
	base.Tables.Items = items
}

// AddTable inserts table into the base, replacing a table with the same id.
func (s *Store) AddTable(baseID string, table Table) {
	if baseID == "" || table.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.bases[baseID]
	if base == nil {
		base = &Base{ID: baseID}
		s.bases[baseID] = base
	}
	copied := table.clone()
	copied.BaseID = baseID
	for i := range base.Tables.Items {
		if base.Tables.Items[i].ID == table.ID {
			base.Tables.Items[i] = copied
			return
		}
	}
	base.Tables.Items = append(base.Tables.Items, copied)
}

func (s *Store) UpdateTable(baseID, tableID string, changes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.bases[baseID]
	if base == nil {
		return
	}
	for i := range base.Tables.Items {
		if string(base.Tables.Items[i].ID) == tableID {
			updated := overlay(base.Tables.Items[i], changes)
			updated.ID = base.Tables.Items[i].ID
			updated.BaseID = baseID
			base.Tables.Items[i] = updated
			return
		}
	}
}

// DeleteTable removes the table and drops its cached records.
func (s *Store) DeleteTable(baseID, tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if base := s.bases[baseID]; base != nil {
		kept := base.Tables.Items[:0]
		for _, table := range base.Tables.Items {
			if string(table.ID) != tableID {
				kept = append(kept, table)
			}
		}
		base.Tables.Items = kept
	}
	delete(s.records, tableID)
	delete(s.recordsState, tableID)
	delete(s.recordsErrors, tableID)
}

func (s *Store) AddField(tableID string, field Field) {
	if field.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.tableLocked(tableID)
	if table == nil {
		return
	}
	if field.TableID == "" {
		field.TableID = table.ID
	}
	for i := range table.Fields.Items {
		if table.Fields.Items[i].ID == field.ID {
			table.Fields.Items[i] = field
			return
		}
	}
	table.Fields.Items = append(table.Fields.Items, field)
}

// UpdateField applies changes to a field. A rename also renames the key in every
// cached record of the table.
func (s *Store) UpdateField(tableID, fieldID string, changes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.tableLocked(tableID)
	if table == nil {
		return
	}
	for i := range table.Fields.Items {
		current := table.Fields.Items[i]
		if string(current.ID) != fieldID {
			continue
		}
		updated := overlay(current, changes)
		updated.ID = current.ID
		table.Fields.Items[i] = updated
		if updated.Name != current.Name && current.Name != "" && updated.Name != "" {
			if cache := s.records[tableID]; cache != nil {
				for _, record := range cache.Items {
					if value, ok := record[current.Name]; ok {
						record[updated.Name] = value
						delete(record, current.Name)
					}
				}
			}
		}
		return
	}
}

// DeleteField removes the field and strips its key from every cached record of
// the table.
func (s *Store) DeleteField(tableID, fieldID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.tableLocked(tableID)
	if table == nil {
		return
	}
	name := ""
	kept := table.Fields.Items[:0]
	for _, field := range table.Fields.Items {
		if string(field.ID) == fieldID {
			name = field.Name
			continue
		}
		kept = append(kept, field)
	}
	table.Fields.Items = kept
	if name == "" {
		return
	}
	if cache := s.records[tableID]; cache != nil {
		for _, record := range cache.Items {
			delete(record, name)
		}
	}
}

// FindTable returns the table with the given id and the id of its base.
func (s *Store) FindTable(tableID string) (Table, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for baseID, base := range s.bases {
		for _, table := range base.Tables.Items {
			if string(table.ID) == tableID {
				return table.clone(), baseID, true
			}
		}
	}
	return Table{}, "", false
}

func (s *Store) FindTableByName(name string) (Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.tableByNameLocked(name)
	if table == nil {
		return Table{}, false
	}
	return table.clone(), true
}

func (s *Store) tableLocked(tableID string) *Table {
	for _, base := range s.bases {
		for i := range base.Tables.Items {
			if string(base.Tables.Items[i].ID) == tableID {
				return &base.Tables.Items[i]
			}
		}
	}
	return nil
}

// tableByNameLocked walks bases in id order so a name shared by two bases
// resolves the same way every time.
func (s *Store) tableByNameLocked(name string) *Table {
	if name == "" {
		return nil
	}
	for _, baseID := range sortedBaseIDs(s.bases) {
		base := s.bases[baseID]
		for i := range base.Tables.Items {
			if base.Tables.Items[i].Name == name {
				return &base.Tables.Items[i]
			}
		}
	}
	return nil
}
