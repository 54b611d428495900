package bases

import "sort"

// SetTableRecords stores a page of records. A continuation appends to the cached
// list and keeps the first copy of each id; anything else replaces the cache.
func (s *Store) SetTableRecords(tableID string, records []Record, total int, nextPageToken string, isPagination bool) {
	if tableID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTableRecordsLocked(tableID, records, total, nextPageToken, isPagination)
}

func (s *Store) setTableRecordsLocked(tableID string, records []Record, total int, nextPageToken string, isPagination bool) {
	incoming := cloneRecords(records)
	cache := s.records[tableID]
	if !isPagination || cache == nil {
		cache = &RecordCache{Items: dedupeRecords(incoming)}
		s.records[tableID] = cache
	} else {
		cache.Items = dedupeRecords(append(cache.Items, incoming...))
	}
	cache.Total = total

	state := s.stateLocked(tableID)
	now := s.now()
	state.Loading = false
	state.LastFetched = &now
	state.NextPageToken = nextPageToken
	state.IsFullyLoaded = nextPageToken == ""
	state.TotalRecords = total
	state.TotalPages = totalPages(total, state.PageSize)
}

// IntegrateRealTimeUpdates applies a combined delta: deletions first, then field
// merges into records already cached, then additions at the head of the list. The
// visible window only takes additions while it shows page 0; the total always moves.
func (s *Store) IntegrateRealTimeUpdates(tableID string, updates, additions []Record, deletions []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache := s.records[tableID]
	if cache == nil {
		return
	}
	state := s.stateLocked(tableID)

	deleted := 0
	if len(deletions) > 0 {
		drop := make(map[string]struct{}, len(deletions))
		for _, id := range deletions {
			if key := recordKey(id); key != "" {
				drop[key] = struct{}{}
			}
		}
		deleted = len(drop)
		kept := cache.Items[:0]
		for _, record := range cache.Items {
			if _, ok := drop[record.ID()]; !ok {
				kept = append(kept, record)
			}
		}
		cache.Items = kept
	}

	for _, update := range updates {
		mergeRecord(cache.Items, update)
	}

	added := 0
	fresh := make([]Record, 0, len(additions))
	for _, record := range additions {
		if record.ID() == "" {
			continue
		}
		added++
		fresh = append(fresh, record.clone())
	}
	if len(fresh) > 0 && state.CurrentPage == 0 {
		cache.Items = dedupeRecords(append(fresh, cache.Items...))
		if state.PageSize > 0 && len(cache.Items) > state.PageSize {
			cache.Items = cache.Items[:state.PageSize]
		}
	}

	total := cache.Total + added - deleted
	if total < 0 {
		total = 0
	}
	cache.Total = total

	now := s.now()
	state.HasRealTimeUpdates = true
	state.LastRealTimeUpdate = &now
	state.TotalRecords = total
	state.TotalPages = totalPages(total, state.PageSize)
}

// UpdateTableRecord merges changes into a cached record. When tableID has no cache
// and tableName is given, the table is resolved by name.
func (s *Store) UpdateTableRecord(tableID, tableName string, recordID any, changes Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache := s.records[s.resolveTableLocked(tableID, tableName)]
	if cache == nil {
		return
	}
	update := changes.clone()
	if update == nil {
		update = Record{}
	}
	if recordKey(recordID) != "" {
		update["id"] = recordID
	}
	mergeRecord(cache.Items, update)
}

// AddTableRecord puts record at the head of the table's cache, or replaces the
// cached copy of the same id in place.
func (s *Store) AddTableRecord(tableID, tableName string, record Record) {
	if record.ID() == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved := s.resolveTableLocked(tableID, tableName)
	cache := s.records[resolved]
	if cache == nil {
		return
	}
	key := record.ID()
	for i := range cache.Items {
		if cache.Items[i].ID() == key {
			cache.Items[i] = record.clone()
			return
		}
	}
	cache.Items = append([]Record{record.clone()}, cache.Items...)
	cache.Total++
	state := s.stateLocked(resolved)
	state.TotalRecords = cache.Total
	state.TotalPages = totalPages(cache.Total, state.PageSize)
}

func (s *Store) DeleteTableRecord(tableID, tableName string, recordID any) {
	key := recordKey(recordID)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved := s.resolveTableLocked(tableID, tableName)
	cache := s.records[resolved]
	if cache == nil {
		return
	}
	for i := range cache.Items {
		if cache.Items[i].ID() != key {
			continue
		}
		cache.Items = append(cache.Items[:i], cache.Items[i+1:]...)
		if cache.Total > 0 {
			cache.Total--
		}
		state := s.stateLocked(resolved)
		state.TotalRecords = cache.Total
		state.TotalPages = totalPages(cache.Total, state.PageSize)
		return
	}
}

func (s *Store) SetRecordsLoading(tableID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(tableID).Loading = loading
}

// SetPagination records which page the cache window shows. A non-positive
// pageSize keeps the current one.
func (s *Store) SetPagination(tableID string, currentPage, pageSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(tableID)
	if currentPage >= 0 {
		state.CurrentPage = currentPage
	}
	if pageSize > 0 {
		state.PageSize = pageSize
	}
	state.TotalPages = totalPages(state.TotalRecords, state.PageSize)
}

func (s *Store) stateLocked(tableID string) *RecordsState {
	state := s.recordsState[tableID]
	if state == nil {
		state = &RecordsState{PageSize: s.pageSize}
		s.recordsState[tableID] = state
	}
	return state
}

// resolveTableLocked returns tableID when it has a cache, otherwise the id of the
// table named tableName if that one has a cache, otherwise "".
func (s *Store) resolveTableLocked(tableID, tableName string) string {
	if tableID != "" && s.records[tableID] != nil {
		return tableID
	}
	if table := s.tableByNameLocked(tableName); table != nil && s.records[string(table.ID)] != nil {
		return string(table.ID)
	}
	return ""
}

// mergeRecord copies the fields of update onto the cached record with the same id.
func mergeRecord(items []Record, update Record) {
	key := update.ID()
	if key == "" {
		return
	}
	for _, record := range items {
		if record.ID() != key {
			continue
		}
		for field, value := range update {
			if field == "id" {
				continue
			}
			record[field] = cloneValue(value)
		}
		return
	}
}

func sortedBaseIDs(bases map[string]*Base) []string {
	ids := make([]string, 0, len(bases))
	for id := range bases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
